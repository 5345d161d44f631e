package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/CeliaPro/ysm2-sub000/internal/retry"
)

// MaxLookupBatch is the largest hash set accepted by FindExistingByHashes.
// It keeps the IN clause well below SQLite's bound-parameter limit.
const MaxLookupBatch = 100

type SQLiteStore struct {
	db     *sql.DB
	policy retry.Policy
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; concurrent ingestion goroutines queue here
	// instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, policy: retry.DefaultPolicy}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// SetRetryPolicy replaces the policy applied to every store call.
func (s *SQLiteStore) SetRetryPolicy(p retry.Policy) {
	s.policy = p
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    PRAGMA foreign_keys = ON;

    CREATE TABLE IF NOT EXISTS documents (
        processing_id TEXT PRIMARY KEY,
        conversation_id TEXT NOT NULL,
        uploaded_by TEXT NOT NULL DEFAULT '',
        source_name TEXT NOT NULL DEFAULT '',
        metadata_json TEXT,
        chunk_count INTEGER NOT NULL DEFAULT 0,
        unique_chunks INTEGER NOT NULL DEFAULT 0,
        reused_chunks INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        processing_id TEXT NOT NULL,
        conversation_id TEXT NOT NULL,
        chunk_index INTEGER NOT NULL CHECK (chunk_index >= 0),
        page_number INTEGER,
        text TEXT NOT NULL,
        content_hash TEXT NOT NULL,
        embedding_json TEXT, -- JSON array of float32, NULL when not embedded
        source_name TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_chunks_identity ON chunks (conversation_id, content_hash);
    CREATE INDEX IF NOT EXISTS idx_chunks_processing ON chunks (processing_id, chunk_index);
    CREATE INDEX IF NOT EXISTS idx_documents_conversation ON documents (conversation_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// ErrDuplicateDocument is returned by CreateDocument when the processing id
// is already taken.
var ErrDuplicateDocument = errors.New("document already exists")

// CreateDocument inserts the document row and fails with
// ErrDuplicateDocument if the processing id exists. Ingestion calls it
// before writing any chunk, so the row doubles as the id reservation.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document) error {
	metadataJSON, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	return retry.Do(ctx, s.policy, retry.IsTransient, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
            INSERT INTO documents (processing_id, conversation_id, uploaded_by, source_name, metadata_json, chunk_count, unique_chunks, reused_chunks, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ProcessingID, doc.ConversationID, doc.UploadedBy, doc.SourceName, metadataJSON,
			doc.ChunkCount, doc.UniqueChunks, doc.ReusedChunks, doc.CreatedAt)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
				return fmt.Errorf("%w: %s", ErrDuplicateDocument, doc.ProcessingID)
			}
			return fmt.Errorf("failed to insert document: %w", err)
		}
		return nil
	})
}

// UpdateDocumentCounts records the chunk counts of a finished ingestion.
func (s *SQLiteStore) UpdateDocumentCounts(ctx context.Context, doc *Document) error {
	return retry.Do(ctx, s.policy, retry.IsTransient, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
            UPDATE documents SET chunk_count = ?, unique_chunks = ?, reused_chunks = ?
            WHERE processing_id = ?`,
			doc.ChunkCount, doc.UniqueChunks, doc.ReusedChunks, doc.ProcessingID)
		if err != nil {
			return fmt.Errorf("failed to update document counts: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("failed to update document counts: no document %s", doc.ProcessingID)
		}
		return nil
	})
}

func (s *SQLiteStore) GetDocument(ctx context.Context, processingID string) (*Document, error) {
	return retry.DoValue(ctx, s.policy, retry.IsTransient, func(ctx context.Context) (*Document, error) {
		row := s.db.QueryRowContext(ctx, `
            SELECT processing_id, conversation_id, uploaded_by, source_name, metadata_json, chunk_count, unique_chunks, reused_chunks, created_at
            FROM documents WHERE processing_id = ?`, processingID)
		doc, err := scanDocument(row)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, nil // Not found
			}
			return nil, fmt.Errorf("failed to get document: %w", err)
		}
		return doc, nil
	})
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, conversationID string) ([]Document, error) {
	return retry.DoValue(ctx, s.policy, retry.IsTransient, func(ctx context.Context) ([]Document, error) {
		rows, err := s.db.QueryContext(ctx, `
            SELECT processing_id, conversation_id, uploaded_by, source_name, metadata_json, chunk_count, unique_chunks, reused_chunks, created_at
            FROM documents WHERE conversation_id = ? ORDER BY created_at DESC`, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to query documents: %w", err)
		}
		defer rows.Close()

		var docs []Document
		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				return nil, fmt.Errorf("failed to scan document row: %w", err)
			}
			docs = append(docs, *doc)
		}
		return docs, rows.Err()
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var metadataJSON sql.NullString
	if err := row.Scan(&doc.ProcessingID, &doc.ConversationID, &doc.UploadedBy, &doc.SourceName, &metadataJSON,
		&doc.ChunkCount, &doc.UniqueChunks, &doc.ReusedChunks, &doc.CreatedAt); err != nil {
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			log.Printf("Warning: failed to unmarshal metadata for document %s: %v", doc.ProcessingID, err)
		}
	}
	return &doc, nil
}

// Chunk methods

// FindExistingByHashes returns, for every hash already stored in the
// conversation, the vector of one existing chunk with that identity (nil if
// none of them was embedded). At most MaxLookupBatch hashes per call.
func (s *SQLiteStore) FindExistingByHashes(ctx context.Context, conversationID string, hashes []string) (map[string][]float32, error) {
	if len(hashes) == 0 {
		return map[string][]float32{}, nil
	}
	if len(hashes) > MaxLookupBatch {
		return nil, fmt.Errorf("hash lookup batch of %d exceeds limit %d", len(hashes), MaxLookupBatch)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	query := fmt.Sprintf(`SELECT content_hash, embedding_json FROM chunks
        WHERE conversation_id = ? AND content_hash IN (%s) ORDER BY id`, placeholders)
	args := make([]any, 0, len(hashes)+1)
	args = append(args, conversationID)
	for _, h := range hashes {
		args = append(args, h)
	}

	return retry.DoValue(ctx, s.policy, retry.IsTransient, func(ctx context.Context) (map[string][]float32, error) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query chunk identities: %w", err)
		}
		defer rows.Close()

		found := make(map[string][]float32, len(hashes))
		for rows.Next() {
			var hash string
			var embeddingJSON sql.NullString
			if err := rows.Scan(&hash, &embeddingJSON); err != nil {
				return nil, fmt.Errorf("failed to scan chunk identity: %w", err)
			}
			vec := decodeEmbedding(hash, embeddingJSON)
			if existing, ok := found[hash]; !ok || (existing == nil && vec != nil) {
				found[hash] = vec
			}
		}
		return found, rows.Err()
	})
}

func (s *SQLiteStore) InsertChunk(ctx context.Context, chunk *Chunk) error {
	var embeddingJSON sql.NullString
	if len(chunk.Vector) > 0 {
		embeddingBytes, err := json.Marshal(chunk.Vector)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		embeddingJSON = sql.NullString{String: string(embeddingBytes), Valid: true}
	}
	var page sql.NullInt64
	if chunk.PageNumber != nil {
		page = sql.NullInt64{Int64: int64(*chunk.PageNumber), Valid: true}
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}

	return retry.Do(ctx, s.policy, retry.IsTransient, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
            INSERT INTO chunks (processing_id, conversation_id, chunk_index, page_number, text, content_hash, embedding_json, source_name, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			chunk.ProcessingID, chunk.ConversationID, chunk.ChunkIndex, page, chunk.Text,
			chunk.ContentHash, embeddingJSON, chunk.SourceName, chunk.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to execute chunk insert: %w", err)
		}
		chunk.ID, _ = res.LastInsertId()
		return nil
	})
}

func (s *SQLiteStore) FindByProcessingID(ctx context.Context, processingID string) ([]Chunk, error) {
	return retry.DoValue(ctx, s.policy, retry.IsTransient, func(ctx context.Context) ([]Chunk, error) {
		rows, err := s.db.QueryContext(ctx, `
            SELECT id, processing_id, conversation_id, chunk_index, page_number, text, content_hash, embedding_json, source_name, created_at
            FROM chunks WHERE processing_id = ? ORDER BY chunk_index ASC, id ASC`, processingID)
		if err != nil {
			return nil, fmt.Errorf("failed to query chunks: %w", err)
		}
		defer rows.Close()

		var chunks []Chunk
		for rows.Next() {
			var chunk Chunk
			var page sql.NullInt64
			var embeddingJSON sql.NullString
			if err := rows.Scan(&chunk.ID, &chunk.ProcessingID, &chunk.ConversationID, &chunk.ChunkIndex, &page,
				&chunk.Text, &chunk.ContentHash, &embeddingJSON, &chunk.SourceName, &chunk.CreatedAt); err != nil {
				return nil, fmt.Errorf("failed to scan chunk row: %w", err)
			}
			if page.Valid {
				p := int(page.Int64)
				chunk.PageNumber = &p
			}
			chunk.Vector = decodeEmbedding(chunk.ContentHash, embeddingJSON)
			chunks = append(chunks, chunk)
		}
		return chunks, rows.Err()
	})
}

// DeleteByProcessingID removes a document version and all of its chunks.
func (s *SQLiteStore) DeleteByProcessingID(ctx context.Context, processingID string) (int64, error) {
	return retry.DoValue(ctx, s.policy, retry.IsTransient, func(ctx context.Context) (int64, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to begin delete: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE processing_id = ?", processingID)
		if err != nil {
			return 0, fmt.Errorf("failed to delete chunks: %w", err)
		}
		deleted, _ := res.RowsAffected()

		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE processing_id = ?", processingID); err != nil {
			return 0, fmt.Errorf("failed to delete document: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("failed to commit delete: %w", err)
		}
		return deleted, nil
	})
}

func decodeEmbedding(hash string, embeddingJSON sql.NullString) []float32 {
	if !embeddingJSON.Valid || embeddingJSON.String == "" {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(embeddingJSON.String), &vec); err != nil {
		log.Printf("Warning: failed to unmarshal embedding for chunk %.12s: %v. Embedding will be empty.", hash, err)
		return nil
	}
	return vec
}

func marshalMetadata(metadata map[string]string) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
