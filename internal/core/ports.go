package core

import (
	"context"

	"github.com/CeliaPro/ysm2-sub000/internal/store"
)

// ChunkStore is the vector store contract the pipeline and the
// orchestrator depend on. *store.SQLiteStore satisfies it.
type ChunkStore interface {
	FindExistingByHashes(ctx context.Context, conversationID string, hashes []string) (map[string][]float32, error)
	InsertChunk(ctx context.Context, chunk *store.Chunk) error
	FindByProcessingID(ctx context.Context, processingID string) ([]store.Chunk, error)
	DeleteByProcessingID(ctx context.Context, processingID string) (int64, error)

	// CreateDocument fails with store.ErrDuplicateDocument when the
	// processing id is taken.
	CreateDocument(ctx context.Context, doc *store.Document) error
	UpdateDocumentCounts(ctx context.Context, doc *store.Document) error
	GetDocument(ctx context.Context, processingID string) (*store.Document, error)
	ListDocuments(ctx context.Context, conversationID string) ([]store.Document, error)
}

// Embedder turns texts into vectors. EmbedBatch must return exactly one
// vector per input, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// Adjudication is the adjudicator's verdict on one modified pair.
type Adjudication struct {
	Confidence    float64 `json:"confidence"`
	DiffHighlight string  `json:"diffHighlight,omitempty"`
}

// Adjudicator refines ambiguous modified pairs.
type Adjudicator interface {
	Adjudicate(ctx context.Context, leftText, rightText string) (Adjudication, error)
}

var _ ChunkStore = (*store.SQLiteStore)(nil)
