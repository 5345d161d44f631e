package core

import (
	"cmp"
	"slices"

	"github.com/CeliaPro/ysm2-sub000/internal/store"
)

// ChunkEntry is one row of a result bucket. ChunkIndex is the left index
// for removed and modified entries and the right index otherwise.
type ChunkEntry struct {
	ChunkIndex    int      `json:"chunkIndex"`
	LeftIndex     *int     `json:"leftIndex,omitempty"`
	RightIndex    *int     `json:"rightIndex,omitempty"`
	Text          string   `json:"text"`
	PreviousText  string   `json:"previousText,omitempty"`
	PageNumber    *int     `json:"pageNumber"`
	Similarity    *float64 `json:"similarity,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Status        string   `json:"status,omitempty"`
	DiffHighlight string   `json:"diffHighlight,omitempty"`
}

type Statistics struct {
	LeftChunks        int     `json:"leftChunks"`
	RightChunks       int     `json:"rightChunks"`
	Unchanged         int     `json:"unchanged"`
	Modified          int     `json:"modified"`
	Added             int     `json:"added"`
	Removed           int     `json:"removed"`
	AverageSimilarity float64 `json:"averageSimilarity"` // over modified entries
	ChangeRatio       float64 `json:"changeRatio"`       // non-unchanged entries over all entries
}

type PipelineInfo struct {
	Steps      []string `json:"steps"`
	DurationMs int64    `json:"durationMs"`
	UsedLLM    bool     `json:"usedLLM"`
	LLMCalls   int      `json:"llmCalls"`
}

type ComparisonResult struct {
	LeftProcessingID  string       `json:"doc1ProcessingId"`
	RightProcessingID string       `json:"doc2ProcessingId"`
	Added             []ChunkEntry `json:"added"`
	Removed           []ChunkEntry `json:"removed"`
	Unchanged         []ChunkEntry `json:"unchanged"`
	Modified          []ChunkEntry `json:"modified"`
	Statistics        Statistics   `json:"statistics"`
	Pipeline          PipelineInfo `json:"pipeline"`
}

// FormatComparison buckets classifications, sorts each bucket by chunk
// index and computes statistics. Buckets are never nil.
func FormatComparison(outcome *MatchOutcome, leftCount, rightCount int) *ComparisonResult {
	res := &ComparisonResult{
		Added:     []ChunkEntry{},
		Removed:   []ChunkEntry{},
		Unchanged: []ChunkEntry{},
		Modified:  []ChunkEntry{},
		Pipeline: PipelineInfo{
			Steps:    append([]string{}, outcome.Steps...),
			UsedLLM:  outcome.UsedLLM(),
			LLMCalls: outcome.LLMCalls,
		},
	}

	var similaritySum float64
	for _, c := range outcome.Classifications {
		switch st := c.Status.(type) {
		case Unchanged:
			e := entryFor(c.Right)
			e.LeftIndex = indexOf(c.Left)
			e.RightIndex = indexOf(c.Right)
			res.Unchanged = append(res.Unchanged, e)
		case Added:
			res.Added = append(res.Added, entryFor(c.Right))
		case Removed:
			res.Removed = append(res.Removed, entryFor(c.Left))
		case Modified:
			e := entryFor(c.Right)
			e.ChunkIndex = c.Left.ChunkIndex
			e.LeftIndex = indexOf(c.Left)
			e.RightIndex = indexOf(c.Right)
			e.PreviousText = c.Left.Text
			sim := st.Similarity
			e.Similarity = &sim
			e.Confidence = st.Confidence
			e.Status = st.Status
			e.DiffHighlight = st.DiffHighlight
			res.Modified = append(res.Modified, e)
			similaritySum += sim
		}
	}

	byIndex := func(a, b ChunkEntry) int {
		if c := cmp.Compare(a.ChunkIndex, b.ChunkIndex); c != 0 {
			return c
		}
		return cmp.Compare(deref(a.LeftIndex), deref(b.LeftIndex))
	}
	slices.SortFunc(res.Added, byIndex)
	slices.SortFunc(res.Removed, byIndex)
	slices.SortFunc(res.Unchanged, byIndex)
	slices.SortFunc(res.Modified, byIndex)

	stats := Statistics{
		LeftChunks:  leftCount,
		RightChunks: rightCount,
		Unchanged:   len(res.Unchanged),
		Modified:    len(res.Modified),
		Added:       len(res.Added),
		Removed:     len(res.Removed),
	}
	if stats.Modified > 0 {
		stats.AverageSimilarity = similaritySum / float64(stats.Modified)
	}
	if total := stats.Unchanged + stats.Modified + stats.Added + stats.Removed; total > 0 {
		stats.ChangeRatio = float64(stats.Modified+stats.Added+stats.Removed) / float64(total)
	}
	res.Statistics = stats
	return res
}

func entryFor(c *store.Chunk) ChunkEntry {
	return ChunkEntry{ChunkIndex: c.ChunkIndex, Text: c.Text, PageNumber: c.PageNumber}
}

func indexOf(c *store.Chunk) *int {
	i := c.ChunkIndex
	return &i
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
