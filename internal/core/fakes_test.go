package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/CeliaPro/ysm2-sub000/internal/store"
	"github.com/CeliaPro/ysm2-sub000/internal/utils"
)

// memStore is an in-memory ChunkStore.
type memStore struct {
	mu         sync.Mutex
	chunks     []store.Chunk
	docs       map[string]store.Document
	nextID     int64
	calls      int
	lookups    [][]string
	failInsert func(c *store.Chunk) error
	failLookup error
	failCounts error
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]store.Document)}
}

func (m *memStore) FindExistingByHashes(_ context.Context, conversationID string, hashes []string) (map[string][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lookups = append(m.lookups, slices.Clone(hashes))
	if m.failLookup != nil {
		return nil, m.failLookup
	}
	out := make(map[string][]float32)
	for _, c := range m.chunks {
		if c.ConversationID != conversationID || !slices.Contains(hashes, c.ContentHash) {
			continue
		}
		if existing, ok := out[c.ContentHash]; !ok || (existing == nil && c.Vector != nil) {
			out[c.ContentHash] = c.Vector
		}
	}
	return out, nil
}

func (m *memStore) InsertChunk(_ context.Context, c *store.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failInsert != nil {
		if err := m.failInsert(c); err != nil {
			return err
		}
	}
	m.nextID++
	c.ID = m.nextID
	m.chunks = append(m.chunks, *c)
	return nil
}

func (m *memStore) FindByProcessingID(_ context.Context, processingID string) ([]store.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []store.Chunk
	for _, c := range m.chunks {
		if c.ProcessingID == processingID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b store.Chunk) int { return a.ChunkIndex - b.ChunkIndex })
	return out, nil
}

func (m *memStore) DeleteByProcessingID(_ context.Context, processingID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var kept []store.Chunk
	var n int64
	for _, c := range m.chunks {
		if c.ProcessingID == processingID {
			n++
			continue
		}
		kept = append(kept, c)
	}
	m.chunks = kept
	delete(m.docs, processingID)
	return n, nil
}

func (m *memStore) CreateDocument(_ context.Context, doc *store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if _, ok := m.docs[doc.ProcessingID]; ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicateDocument, doc.ProcessingID)
	}
	m.docs[doc.ProcessingID] = *doc
	return nil
}

func (m *memStore) UpdateDocumentCounts(_ context.Context, doc *store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failCounts != nil {
		return m.failCounts
	}
	existing, ok := m.docs[doc.ProcessingID]
	if !ok {
		return fmt.Errorf("no document %s", doc.ProcessingID)
	}
	existing.ChunkCount = doc.ChunkCount
	existing.UniqueChunks = doc.UniqueChunks
	existing.ReusedChunks = doc.ReusedChunks
	m.docs[doc.ProcessingID] = existing
	return nil
}

func (m *memStore) GetDocument(_ context.Context, processingID string) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	doc, ok := m.docs[processingID]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (m *memStore) ListDocuments(_ context.Context, conversationID string) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []store.Document
	for _, d := range m.docs {
		if d.ConversationID == conversationID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// seed stores chunks for a document directly, bypassing ingestion.
func (m *memStore) seed(processingID, owner string, texts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range texts {
		m.nextID++
		m.chunks = append(m.chunks, store.Chunk{
			ID:             m.nextID,
			ProcessingID:   processingID,
			ConversationID: "conv",
			ChunkIndex:     i,
			Text:           t,
			ContentHash:    utils.ContentHash(t),
		})
	}
	m.docs[processingID] = store.Document{ProcessingID: processingID, ConversationID: "conv", UploadedBy: owner, ChunkCount: len(texts)}
}

// letterEmbedder embeds a text as its letter histogram, so texts sharing
// most letters have high cosine similarity.
type letterEmbedder struct {
	mu      sync.Mutex
	calls   int
	batches []int
	err     error
}

func (e *letterEmbedder) ModelName() string { return "test/letters" }

func (e *letterEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.batches = append(e.batches, len(texts))
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = letterVector(t)
	}
	return out, nil
}

func (e *letterEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func letterVector(text string) []float32 {
	vec := make([]float32, 27)
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z':
			vec[r-'a']++
		case unicode.IsLetter(r):
			vec[26]++
		}
	}
	return vec
}

type stubAdjudicator struct {
	mu         sync.Mutex
	calls      int
	confidence float64
	highlight  string
	failAfter  int // fail every call after this many successes; <0 never
}

func (a *stubAdjudicator) Adjudicate(_ context.Context, _, _ string) (Adjudication, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.failAfter >= 0 && a.calls > a.failAfter {
		return Adjudication{}, errors.New("adjudicator down")
	}
	return Adjudication{Confidence: a.confidence, DiffHighlight: a.highlight}, nil
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	err     error
}

func (c *mapCache) GetMany(_ context.Context, keys []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(keys))
	for i, k := range keys {
		out[i] = c.entries[k]
	}
	return out, nil
}

func (c *mapCache) SetMany(_ context.Context, entries map[string][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.entries == nil {
		c.entries = make(map[string][]float32)
	}
	for k, v := range entries {
		c.entries[k] = v
	}
	return nil
}

func chunksOf(processingID string, texts ...string) []store.Chunk {
	out := make([]store.Chunk, len(texts))
	for i, t := range texts {
		out[i] = store.Chunk{
			ProcessingID:   processingID,
			ConversationID: "conv",
			ChunkIndex:     i,
			Text:           t,
			ContentHash:    utils.ContentHash(t),
		}
	}
	return out
}

func inputsOf(texts ...string) []ChunkInput {
	out := make([]ChunkInput, len(texts))
	for i, t := range texts {
		out[i] = ChunkInput{Text: t}
	}
	return out
}
