package store

import "time"

// Document is one ingested version, grouping its chunks by ProcessingID.
type Document struct {
	ProcessingID   string            `json:"processing_id"`
	ConversationID string            `json:"conversation_id"`
	UploadedBy     string            `json:"uploaded_by"`
	SourceName     string            `json:"source_name"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ChunkCount     int               `json:"chunk_count"`
	UniqueChunks   int               `json:"unique_chunks"`
	ReusedChunks   int               `json:"reused_chunks"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Chunk is an immutable slice of a document version. Identity for
// deduplication is (ConversationID, ContentHash).
type Chunk struct {
	ID             int64     `json:"id"`
	ProcessingID   string    `json:"processing_id"`
	ConversationID string    `json:"conversation_id"`
	ChunkIndex     int       `json:"chunk_index"`
	PageNumber     *int      `json:"page_number"` // Nullable
	Text           string    `json:"text"`
	ContentHash    string    `json:"content_hash"`
	Vector         []float32 `json:"vector"`
	SourceName     string    `json:"source_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasVector reports whether the chunk carries an embedding.
func (c *Chunk) HasVector() bool {
	return len(c.Vector) > 0
}
