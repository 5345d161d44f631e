package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/CeliaPro/ysm2-sub000/internal/store"
)

type ComparisonRequest struct {
	LeftProcessingID  string
	RightProcessingID string
	Options           ComparisonOptions
	Caller            string // empty when auth is disabled
}

// ComparisonService loads two document versions and diffs them.
type ComparisonService struct {
	store  ChunkStore
	engine *DiffEngine
}

func NewComparisonService(s ChunkStore, engine *DiffEngine) *ComparisonService {
	return &ComparisonService{store: s, engine: engine}
}

// Compare validates the request before any I/O, checks ownership of both
// documents, loads their chunks and runs the matching engine.
func (s *ComparisonService) Compare(ctx context.Context, req ComparisonRequest) (*ComparisonResult, error) {
	began := time.Now()

	req.LeftProcessingID = strings.TrimSpace(req.LeftProcessingID)
	req.RightProcessingID = strings.TrimSpace(req.RightProcessingID)
	if req.LeftProcessingID == "" || req.RightProcessingID == "" {
		return nil, validationErrorf("doc1ProcessingId and doc2ProcessingId are required")
	}
	if err := req.Options.Validate(); err != nil {
		return nil, err
	}

	left, err := s.loadChunks(ctx, req.LeftProcessingID, req.Caller)
	if err != nil {
		return nil, err
	}
	right, err := s.loadChunks(ctx, req.RightProcessingID, req.Caller)
	if err != nil {
		return nil, err
	}

	outcome, err := s.engine.Match(ctx, left, right, req.Options)
	if err != nil {
		return nil, err
	}

	result := FormatComparison(outcome, len(left), len(right))
	result.LeftProcessingID = req.LeftProcessingID
	result.RightProcessingID = req.RightProcessingID
	result.Pipeline.DurationMs = time.Since(began).Milliseconds()

	log.Printf("Compared %s -> %s: %d unchanged, %d modified, %d added, %d removed, steps=%v, llm calls=%d, %dms",
		req.LeftProcessingID, req.RightProcessingID, result.Statistics.Unchanged, result.Statistics.Modified,
		result.Statistics.Added, result.Statistics.Removed, result.Pipeline.Steps, result.Pipeline.LLMCalls,
		result.Pipeline.DurationMs)
	return result, nil
}

// GetChunks returns the chunks of one document version in index order.
func (s *ComparisonService) GetChunks(ctx context.Context, processingID, caller string) ([]store.Chunk, error) {
	processingID = strings.TrimSpace(processingID)
	if processingID == "" {
		return nil, validationErrorf("processingId is required")
	}
	return s.loadChunks(ctx, processingID, caller)
}

func (s *ComparisonService) loadChunks(ctx context.Context, processingID, caller string) ([]store.Chunk, error) {
	doc, err := s.store.GetDocument(ctx, processingID)
	if err != nil {
		return nil, storeError("document lookup", err)
	}
	if err := checkOwnership(doc, caller); err != nil {
		return nil, err
	}

	chunks, err := s.store.FindByProcessingID(ctx, processingID)
	if err != nil {
		return nil, storeError("load chunks", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks for processingId %s", ErrNotFound, processingID)
	}
	return chunks, nil
}
