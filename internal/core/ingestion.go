package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/CeliaPro/ysm2-sub000/internal/store"
	"github.com/CeliaPro/ysm2-sub000/internal/utils"
)

const (
	DefaultEmbedBatchSize    = 100
	DefaultLookupBatchSize   = 100
	DefaultIngestConcurrency = 8
)

// ChunkInput is one chunk as handed to ingestion, in document order.
type ChunkInput struct {
	Text       string `json:"text"`
	PageNumber *int   `json:"pageNumber,omitempty"`
}

type IngestRequest struct {
	ConversationID string
	ProcessingID   string // generated when empty
	UploadedBy     string
	SourceName     string
	Metadata       map[string]string
	Chunks         []ChunkInput
}

// ChunkOutcome is the per-chunk marker returned in-band. Error is set when
// that chunk could not be persisted.
type ChunkOutcome struct {
	Index    int    `json:"index"`
	Reused   bool   `json:"reused"`
	Embedded bool   `json:"embedded"`
	Error    bool   `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
}

// IngestionResult always satisfies UniqueChunksWritten+ReusedChunks == TotalChunks.
type IngestionResult struct {
	ProcessingID        string         `json:"processingId"`
	TotalChunks         int            `json:"totalChunks"`
	UniqueChunksWritten int            `json:"uniqueChunksWritten"`
	ReusedChunks        int            `json:"reusedChunks"`
	FailedChunks        int            `json:"failedChunks"`
	EmbeddingCalls      int            `json:"embeddingCalls"`
	Chunks              []ChunkOutcome `json:"chunks"`
}

type IngestionOptions struct {
	EmbedBatchSize  int
	LookupBatchSize int
	Concurrency     int
}

type IngestionService struct {
	store    ChunkStore
	embedder Embedder // nil stores chunks without vectors
	opts     IngestionOptions
}

func NewIngestionService(s ChunkStore, embedder Embedder, opts IngestionOptions) *IngestionService {
	if opts.EmbedBatchSize <= 0 || opts.EmbedBatchSize > maxEmbedBatch {
		opts.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if opts.LookupBatchSize <= 0 || opts.LookupBatchSize > store.MaxLookupBatch {
		opts.LookupBatchSize = DefaultLookupBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultIngestConcurrency
	}
	return &IngestionService{store: s, embedder: embedder, opts: opts}
}

type pendingChunk struct {
	position int
	record   store.Chunk
	reused   bool
}

// Ingest deduplicates chunks against the conversation, embeds only the new
// ones and persists every chunk under the request's processing id.
// Per-chunk write failures are reported in the result; an error is
// returned only when nothing could be stored.
func (s *IngestionService) Ingest(ctx context.Context, req IngestRequest) (*IngestionResult, error) {
	if err := validateIngestRequest(&req); err != nil {
		return nil, err
	}

	doc := &store.Document{
		ProcessingID:   req.ProcessingID,
		ConversationID: req.ConversationID,
		UploadedBy:     req.UploadedBy,
		SourceName:     req.SourceName,
		Metadata:       req.Metadata,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, store.ErrDuplicateDocument) {
			return nil, validationErrorf("processingId %s has already been ingested", req.ProcessingID)
		}
		return nil, storeError("reserve document", err)
	}

	pending := make([]pendingChunk, len(req.Chunks))
	for i, in := range req.Chunks {
		pending[i] = pendingChunk{
			position: i,
			record: store.Chunk{
				ProcessingID:   req.ProcessingID,
				ConversationID: req.ConversationID,
				ChunkIndex:     i,
				PageNumber:     in.PageNumber,
				Text:           in.Text,
				ContentHash:    utils.ContentHash(in.Text),
				SourceName:     req.SourceName,
			},
		}
	}

	existing, err := s.lookupExisting(ctx, req.ConversationID, pending)
	if err != nil {
		s.release(ctx, req.ProcessingID)
		return nil, err
	}

	var fresh []*pendingChunk
	for i := range pending {
		if vec, ok := existing[pending[i].record.ContentHash]; ok {
			pending[i].reused = true
			pending[i].record.Vector = vec
			continue
		}
		fresh = append(fresh, &pending[i])
	}

	result := &IngestionResult{
		ProcessingID:        req.ProcessingID,
		TotalChunks:         len(pending),
		UniqueChunksWritten: len(fresh),
		ReusedChunks:        len(pending) - len(fresh),
	}
	result.EmbeddingCalls = s.embedFresh(ctx, fresh)
	result.Chunks = s.persist(ctx, pending)

	stored := 0
	for _, o := range result.Chunks {
		if o.Error {
			result.FailedChunks++
		} else {
			stored++
		}
	}
	if stored == 0 {
		s.release(ctx, req.ProcessingID)
		return result, fmt.Errorf("%w: none of the %d chunks could be stored", ErrTransientStore, len(pending))
	}

	doc.ChunkCount = len(pending)
	doc.UniqueChunks = result.UniqueChunksWritten
	doc.ReusedChunks = result.ReusedChunks
	if err := s.store.UpdateDocumentCounts(ctx, doc); err != nil {
		// The chunks are stored and the id stays reserved; only the
		// summary counts on the document row are stale.
		log.Printf("Warning: failed to record counts for %s: %v", req.ProcessingID, err)
	}

	log.Printf("Ingested %s into conversation %s: %d chunks, %d new, %d reused, %d failed, %d embedding calls",
		req.ProcessingID, req.ConversationID, result.TotalChunks, result.UniqueChunksWritten,
		result.ReusedChunks, result.FailedChunks, result.EmbeddingCalls)
	return result, nil
}

// release drops a reserved document and any chunks already written for it.
func (s *IngestionService) release(ctx context.Context, processingID string) {
	if _, err := s.store.DeleteByProcessingID(context.WithoutCancel(ctx), processingID); err != nil {
		log.Printf("Error releasing processingId %s: %v", processingID, err)
	}
}

func validateIngestRequest(req *IngestRequest) error {
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.ConversationID == "" {
		return validationErrorf("conversationId is required")
	}
	if len(req.Chunks) == 0 {
		return validationErrorf("at least one chunk is required")
	}
	for i, c := range req.Chunks {
		if strings.TrimSpace(c.Text) == "" {
			return validationErrorf("chunk %d has no text", i)
		}
		if c.PageNumber != nil && *c.PageNumber < 0 {
			return validationErrorf("chunk %d has a negative page number", i)
		}
	}
	req.ProcessingID = strings.TrimSpace(req.ProcessingID)
	if req.ProcessingID == "" {
		req.ProcessingID = uuid.NewString()
	}
	return nil
}

// lookupExisting queries the store in sub-batches of distinct hashes.
func (s *IngestionService) lookupExisting(ctx context.Context, conversationID string, pending []pendingChunk) (map[string][]float32, error) {
	seen := make(map[string]struct{}, len(pending))
	hashes := make([]string, 0, len(pending))
	for _, p := range pending {
		if _, ok := seen[p.record.ContentHash]; ok {
			continue
		}
		seen[p.record.ContentHash] = struct{}{}
		hashes = append(hashes, p.record.ContentHash)
	}

	existing := make(map[string][]float32)
	for start := 0; start < len(hashes); start += s.opts.LookupBatchSize {
		end := min(start+s.opts.LookupBatchSize, len(hashes))
		found, err := s.store.FindExistingByHashes(ctx, conversationID, hashes[start:end])
		if err != nil {
			return nil, storeError("existing chunk lookup", err)
		}
		for h, v := range found {
			existing[h] = v
		}
	}
	return existing, nil
}

// embedFresh fills in vectors for new chunks, batch by batch and
// concurrently. Vectors are matched back by position inside the batch,
// never by text. A failed batch leaves its chunks without vectors.
func (s *IngestionService) embedFresh(ctx context.Context, fresh []*pendingChunk) int {
	if s.embedder == nil || len(fresh) == 0 {
		return 0
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	batches := 0
	for start := 0; start < len(fresh); start += s.opts.EmbedBatchSize {
		batch := fresh[start:min(start+s.opts.EmbedBatchSize, len(fresh))]
		batches++
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, p := range batch {
				texts[i] = p.record.Text
			}
			began := time.Now()
			vecs, err := s.embedder.EmbedBatch(ctx, texts)
			if err == nil && len(vecs) != len(texts) {
				err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			if err != nil {
				log.Printf("Warning: embedding batch of %d chunks failed, storing them without vectors: %v", len(batch), err)
				return nil
			}
			for i, p := range batch {
				p.record.Vector = vecs[i]
			}
			log.Printf("Embedded batch of %d chunks in %s", len(batch), time.Since(began).Round(time.Millisecond))
			return nil
		})
	}
	_ = g.Wait()
	return batches
}

// persist writes every chunk independently; one failure never cancels
// the others.
func (s *IngestionService) persist(ctx context.Context, pending []pendingChunk) []ChunkOutcome {
	outcomes := make([]ChunkOutcome, len(pending))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i := range pending {
		p := &pending[i]
		g.Go(func() error {
			outcome := ChunkOutcome{
				Index:    p.record.ChunkIndex,
				Reused:   p.reused,
				Embedded: p.record.HasVector(),
			}
			if err := s.store.InsertChunk(ctx, &p.record); err != nil {
				log.Printf("Error persisting chunk %d of %s: %v", p.record.ChunkIndex, p.record.ProcessingID, err)
				outcome.Error = true
				outcome.Message = err.Error()
			}
			outcomes[p.position] = outcome
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// DeleteDocument removes a document version and its chunks.
func (s *IngestionService) DeleteDocument(ctx context.Context, processingID, caller string) (int64, error) {
	if strings.TrimSpace(processingID) == "" {
		return 0, validationErrorf("processingId is required")
	}
	doc, err := s.store.GetDocument(ctx, processingID)
	if err != nil {
		return 0, storeError("document lookup", err)
	}
	if err := checkOwnership(doc, caller); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteByProcessingID(ctx, processingID)
	if err != nil {
		return 0, storeError("delete chunks", err)
	}
	if doc == nil && n == 0 {
		return 0, fmt.Errorf("%w: no document with processingId %s", ErrNotFound, processingID)
	}
	log.Printf("Deleted document %s (%d chunks)", processingID, n)
	return n, nil
}

// ListDocuments returns the documents ingested into a conversation.
func (s *IngestionService) ListDocuments(ctx context.Context, conversationID string) ([]store.Document, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, validationErrorf("conversationId is required")
	}
	docs, err := s.store.ListDocuments(ctx, conversationID)
	if err != nil {
		return nil, storeError("list documents", err)
	}
	return docs, nil
}

// checkOwnership rejects callers other than the uploader. Documents without
// a recorded uploader, or anonymous callers when auth is off, pass.
func checkOwnership(doc *store.Document, caller string) error {
	if doc == nil || doc.UploadedBy == "" || caller == "" {
		return nil
	}
	if doc.UploadedBy != caller {
		return fmt.Errorf("%w: caller does not own document %s", ErrForbidden, doc.ProcessingID)
	}
	return nil
}
