package core

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/CeliaPro/ysm2-sub000/internal/store"
	"github.com/CeliaPro/ysm2-sub000/internal/utils"
)

// Pipeline step names, in execution order.
const (
	StepExactMatch        = "exact-match"
	StepVectorSimilarity  = "vector-similarity"
	StepLexicalSimilarity = "lexical-similarity"
	StepLLMAdjudication   = "llm-adjudication"
)

// Modified pair provenance.
const (
	StatusHeuristic     = "heuristic"
	StatusHeuristicOnly = "heuristic-only"
	StatusLLMConfirmed  = "llm-confirmed"
)

// ChunkStatus is the closed set of classifications: Unchanged, Added,
// Removed or Modified.
type ChunkStatus interface {
	Kind() string
	sealed()
}

type Unchanged struct{}

type Added struct{}

type Removed struct{}

// Modified carries the scores of a committed fuzzy pair. Confidence is nil
// when neither adjudication nor confidence scoring produced one.
type Modified struct {
	Similarity    float64
	Confidence    *float64
	DiffHighlight string
	Status        string
}

func (Unchanged) Kind() string { return "unchanged" }
func (Added) Kind() string     { return "added" }
func (Removed) Kind() string   { return "removed" }
func (Modified) Kind() string  { return "modified" }

func (Unchanged) sealed() {}
func (Added) sealed()     {}
func (Removed) sealed()   {}
func (Modified) sealed()  {}

// Classification places one chunk, or one left/right pair, in a bucket.
// Left is nil for Added and Right is nil for Removed.
type Classification struct {
	Left   *store.Chunk
	Right  *store.Chunk
	Status ChunkStatus
}

// MatchOutcome is the engine's raw result before formatting.
type MatchOutcome struct {
	Classifications []Classification
	Steps           []string
	LLMCalls        int
}

func (m *MatchOutcome) UsedLLM() bool { return m.LLMCalls > 0 }

// DiffEngine classifies two chunk sets. The embedder backfills missing
// vectors and the adjudicator refines ambiguous pairs; either may be nil.
type DiffEngine struct {
	embedder    Embedder
	adjudicator Adjudicator
}

func NewDiffEngine(embedder Embedder, adjudicator Adjudicator) *DiffEngine {
	return &DiffEngine{embedder: embedder, adjudicator: adjudicator}
}

// candidate is a scored left/right pair. l and r index the unmatched pools.
type candidate struct {
	l, r         int
	leftIndex    int
	rightIndex   int
	vector       float64
	lexical      float64
	combined     float64
	vectorDriven bool
}

// Match runs the exact pass, the fuzzy pass with greedy one-to-one
// assignment, unmatched resolution and, when enabled, bounded adjudication.
func (e *DiffEngine) Match(ctx context.Context, left, right []store.Chunk, opts ComparisonOptions) (*MatchOutcome, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	leftPool := sortedCopy(left)
	rightPool := sortedCopy(right)
	out := &MatchOutcome{}

	if opts.UseExactMatching {
		var unchanged []Classification
		unchanged, leftPool, rightPool = exactPass(leftPool, rightPool)
		out.Classifications = append(out.Classifications, unchanged...)
		out.Steps = append(out.Steps, StepExactMatch)
	}

	var committed []candidate
	if opts.fuzzyEnabled() && len(leftPool) > 0 && len(rightPool) > 0 {
		useVector := false
		if opts.UseVectorSimilarity {
			e.backfillVectors(ctx, leftPool, rightPool)
			useVector = anyVector(leftPool) && anyVector(rightPool)
			if !useVector {
				log.Printf("Vector similarity skipped: no vectors available for the unmatched chunks")
			}
		}
		if !useVector && !opts.UseLexicalSimilarity && !opts.UseExactMatching {
			return nil, fmt.Errorf("%w: vector similarity is the only enabled signal and no embeddings are available", ErrProviderUnavailable)
		}

		if useVector {
			out.Steps = append(out.Steps, StepVectorSimilarity)
		}
		if opts.UseLexicalSimilarity {
			out.Steps = append(out.Steps, StepLexicalSimilarity)
		}
		if useVector || opts.UseLexicalSimilarity {
			signals := opts
			signals.UseVectorSimilarity = useVector
			committed = greedyAssign(scoreCandidates(leftPool, rightPool, signals), len(leftPool), len(rightPool))
		}
	}

	leftMatched := make([]bool, len(leftPool))
	rightMatched := make([]bool, len(rightPool))
	for _, c := range committed {
		leftMatched[c.l] = true
		rightMatched[c.r] = true
	}

	modified, calls := e.resolveModified(ctx, committed, leftPool, rightPool, opts)
	out.Classifications = append(out.Classifications, modified...)
	out.LLMCalls = calls
	if calls > 0 {
		out.Steps = append(out.Steps, StepLLMAdjudication)
	}

	for i := range leftPool {
		if !leftMatched[i] {
			out.Classifications = append(out.Classifications, Classification{Left: &leftPool[i], Status: Removed{}})
		}
	}
	for j := range rightPool {
		if !rightMatched[j] {
			out.Classifications = append(out.Classifications, Classification{Right: &rightPool[j], Status: Added{}})
		}
	}
	return out, nil
}

func sortedCopy(chunks []store.Chunk) []store.Chunk {
	out := slices.Clone(chunks)
	slices.SortStableFunc(out, func(a, b store.Chunk) int { return cmp.Compare(a.ChunkIndex, b.ChunkIndex) })
	return out
}

// exactPass pairs chunks with equal content hashes. Duplicate hashes pair
// up in chunk order. It returns the unchanged pairs and the remaining pools.
func exactPass(left, right []store.Chunk) ([]Classification, []store.Chunk, []store.Chunk) {
	queues := make(map[string][]int, len(right))
	for j := range right {
		queues[right[j].ContentHash] = append(queues[right[j].ContentHash], j)
	}

	rightTaken := make([]bool, len(right))
	var unchanged []Classification
	var leftRest []store.Chunk
	for i := range left {
		q := queues[left[i].ContentHash]
		if len(q) == 0 {
			leftRest = append(leftRest, left[i])
			continue
		}
		j := q[0]
		queues[left[i].ContentHash] = q[1:]
		rightTaken[j] = true
		l, r := left[i], right[j]
		unchanged = append(unchanged, Classification{Left: &l, Right: &r, Status: Unchanged{}})
	}

	var rightRest []store.Chunk
	for j := range right {
		if !rightTaken[j] {
			rightRest = append(rightRest, right[j])
		}
	}
	return unchanged, leftRest, rightRest
}

// scoreCandidates scores every left×right pair with the enabled signals and
// keeps those at or above the threshold that applies to them.
func scoreCandidates(left, right []store.Chunk, opts ComparisonOptions) []candidate {
	var leftWords, rightWords []utils.WordSet
	if opts.UseLexicalSimilarity {
		leftWords = wordSets(left)
		rightWords = wordSets(right)
	}

	var candidates []candidate
	for i := range left {
		for j := range right {
			c := candidate{l: i, r: j, leftIndex: left[i].ChunkIndex, rightIndex: right[j].ChunkIndex}

			hasVector := false
			if opts.UseVectorSimilarity && left[i].HasVector() && right[j].HasVector() {
				if v, err := utils.VectorScore(left[i].Vector, right[j].Vector); err == nil {
					c.vector = v
					hasVector = true
				}
			}
			if opts.UseLexicalSimilarity {
				c.lexical = utils.Jaccard(leftWords[i], rightWords[j])
			}

			threshold := opts.LexicalSimilarityThreshold
			switch {
			case hasVector && opts.UseLexicalSimilarity:
				c.combined = (c.vector + c.lexical) / 2
				c.vectorDriven = true
			case hasVector:
				c.combined = c.vector
				c.vectorDriven = true
			case opts.UseLexicalSimilarity:
				c.combined = c.lexical
			default:
				continue
			}
			if c.vectorDriven {
				threshold = opts.SemanticSimilarityThreshold
			}
			c.combined = utils.Clamp01(c.combined)
			if c.combined >= threshold {
				candidates = append(candidates, c)
			}
		}
	}
	return candidates
}

func wordSets(chunks []store.Chunk) []utils.WordSet {
	sets := make([]utils.WordSet, len(chunks))
	for i := range chunks {
		sets[i] = utils.NewWordSet(chunks[i].Text)
	}
	return sets
}

// greedyAssign commits candidates best-first, skipping any whose left or
// right chunk is already taken. Ties go to the lower (left, right) index.
func greedyAssign(candidates []candidate, nLeft, nRight int) []candidate {
	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(b.combined, a.combined); c != 0 {
			return c
		}
		if c := cmp.Compare(a.leftIndex, b.leftIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.rightIndex, b.rightIndex)
	})

	leftCommitted := make([]bool, nLeft)
	rightCommitted := make([]bool, nRight)
	var committed []candidate
	for _, c := range candidates {
		if leftCommitted[c.l] || rightCommitted[c.r] {
			continue
		}
		leftCommitted[c.l] = true
		rightCommitted[c.r] = true
		committed = append(committed, c)
	}

	slices.SortFunc(committed, func(a, b candidate) int { return cmp.Compare(a.leftIndex, b.leftIndex) })
	return committed
}

// backfillVectors embeds unmatched chunks that were stored without a vector.
// Vectors land on the pool copies only and are never persisted.
func (e *DiffEngine) backfillVectors(ctx context.Context, left, right []store.Chunk) {
	var missing []*store.Chunk
	for i := range left {
		if !left[i].HasVector() {
			missing = append(missing, &left[i])
		}
	}
	for j := range right {
		if !right[j].HasVector() {
			missing = append(missing, &right[j])
		}
	}
	if len(missing) == 0 {
		return
	}
	if e.embedder == nil {
		log.Printf("No embedder configured; %d chunks without vectors fall back to lexical scoring", len(missing))
		return
	}

	texts := make([]string, len(missing))
	for i, c := range missing {
		texts[i] = c.Text
	}
	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	if err != nil {
		log.Printf("Warning: vector backfill for %d chunks failed, continuing without them: %v", len(missing), err)
		return
	}
	for i, c := range missing {
		c.Vector = vecs[i]
	}
}

func anyVector(chunks []store.Chunk) bool {
	for i := range chunks {
		if chunks[i].HasVector() {
			return true
		}
	}
	return false
}

// resolveModified turns committed pairs into Modified classifications.
// Pairs below the confidence threshold are adjudicated in left order until
// MaxLLMOps calls have been issued or a call fails; the rest stay
// heuristic-only.
func (e *DiffEngine) resolveModified(ctx context.Context, committed []candidate, left, right []store.Chunk, opts ComparisonOptions) ([]Classification, int) {
	adjudicate := opts.UseLLM && e.adjudicator != nil
	if opts.UseLLM && e.adjudicator == nil && len(committed) > 0 {
		log.Printf("LLM adjudication requested but no adjudicator is configured")
	}

	calls := 0
	failed := false
	out := make([]Classification, 0, len(committed))
	for _, c := range committed {
		l, r := &left[c.l], &right[c.r]
		m := Modified{Similarity: c.combined, Status: StatusHeuristic}

		var adj *Adjudication
		if opts.UseLLM && c.combined < opts.LLMConfidenceThreshold {
			m.Status = StatusHeuristicOnly
			if adjudicate && !failed && calls < opts.MaxLLMOps {
				calls++
				res, err := e.adjudicator.Adjudicate(ctx, l.Text, r.Text)
				if err != nil {
					log.Printf("Warning: adjudication of chunks %d/%d failed, keeping heuristic scores for the rest: %v",
						l.ChunkIndex, r.ChunkIndex, err)
					failed = true
				} else {
					res.Confidence = utils.Clamp01(res.Confidence)
					adj = &res
					m.Status = StatusLLMConfirmed
				}
			}
		}

		switch {
		case adj != nil:
			conf := adj.Confidence
			m.Confidence = &conf
		case opts.ComputeConfidenceScores:
			conf := m.Similarity
			m.Confidence = &conf
		}

		if opts.EnhanceModifiedChunks {
			m.DiffHighlight = HighlightDiff(l.Text, r.Text)
			if adj != nil && adj.DiffHighlight != "" {
				m.DiffHighlight = adj.DiffHighlight
			}
		} else {
			m.DiffHighlight = r.Text
		}

		out = append(out, Classification{Left: l, Right: r, Status: m})
	}
	return out, calls
}
