package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CeliaPro/ysm2-sub000/internal/store"
)

func TestIngestReingestionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	emb := &letterEmbedder{}
	svc := NewIngestionService(st, emb, IngestionOptions{})

	chunks := inputsOf("Alpha paragraph.", "Beta paragraph.", "Gamma paragraph.")

	first, err := svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "v1", Chunks: chunks})
	require.NoError(t, err)
	assert.Equal(t, 3, first.TotalChunks)
	assert.Equal(t, 3, first.UniqueChunksWritten)
	assert.Equal(t, 0, first.ReusedChunks)
	assert.Equal(t, 1, emb.callCount())

	second, err := svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "v2", Chunks: chunks})
	require.NoError(t, err)
	assert.Equal(t, 0, second.UniqueChunksWritten)
	assert.Equal(t, second.TotalChunks, second.ReusedChunks)
	assert.Equal(t, 0, second.EmbeddingCalls)
	assert.Equal(t, 1, emb.callCount(), "re-ingestion must not embed")

	// The second version is loadable on its own and carries the reused vectors.
	v2, err := st.FindByProcessingID(ctx, "v2")
	require.NoError(t, err)
	require.Len(t, v2, 3)
	for _, c := range v2 {
		assert.True(t, c.HasVector())
	}
	for _, o := range second.Chunks {
		assert.True(t, o.Reused)
		assert.False(t, o.Error)
	}
}

func TestIngestWhitespaceOnlyChangesAreReused(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := NewIngestionService(st, &letterEmbedder{}, IngestionOptions{})

	_, err := svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "v1", Chunks: inputsOf("The  quick\nbrown fox")})
	require.NoError(t, err)
	res, err := svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "v2", Chunks: inputsOf("the quick brown FOX")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ReusedChunks)
}

func TestIngestIdentityIsScopedToConversation(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	emb := &letterEmbedder{}
	svc := NewIngestionService(st, emb, IngestionOptions{})

	_, err := svc.Ingest(ctx, IngestRequest{ConversationID: "a", ProcessingID: "v1", Chunks: inputsOf("shared text")})
	require.NoError(t, err)
	res, err := svc.Ingest(ctx, IngestRequest{ConversationID: "b", ProcessingID: "v2", Chunks: inputsOf("shared text")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UniqueChunksWritten)
	assert.Equal(t, 2, emb.callCount())
}

func TestIngestPreservesOrderForDuplicateNewChunks(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := NewIngestionService(st, &letterEmbedder{}, IngestionOptions{})

	res, err := svc.Ingest(ctx, IngestRequest{
		ConversationID: "conv",
		ProcessingID:   "v1",
		Chunks:         inputsOf("same words", "different thing", "same words"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.UniqueChunksWritten)
	assert.Equal(t, res.TotalChunks, res.UniqueChunksWritten+res.ReusedChunks)

	stored, err := st.FindByProcessingID(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, c := range stored {
		assert.Equal(t, letterVector(c.Text), c.Vector, "chunk %d got another chunk's vector", c.ChunkIndex)
	}
}

func TestIngestBatchesLookupsAndEmbeddings(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	emb := &letterEmbedder{}
	svc := NewIngestionService(st, emb, IngestionOptions{EmbedBatchSize: 100, LookupBatchSize: 100, Concurrency: 4})

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("paragraph number %d", i)
	}
	res, err := svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "big", Chunks: inputsOf(texts...)})
	require.NoError(t, err)
	assert.Equal(t, 250, res.UniqueChunksWritten)
	assert.Equal(t, 3, res.EmbeddingCalls)

	require.Len(t, st.lookups, 3)
	for _, batch := range st.lookups {
		assert.LessOrEqual(t, len(batch), 100)
	}
	assert.ElementsMatch(t, []int{100, 100, 50}, emb.batches)
}

func TestIngestIsolatesChunkWriteFailures(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.failInsert = func(c *store.Chunk) error {
		if c.ChunkIndex == 1 {
			return errors.New("disk full")
		}
		return nil
	}
	svc := NewIngestionService(st, &letterEmbedder{}, IngestionOptions{})

	res, err := svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "v1", Chunks: inputsOf("one", "two", "three")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedChunks)
	assert.True(t, res.Chunks[1].Error)
	assert.False(t, res.Chunks[0].Error)
	assert.False(t, res.Chunks[2].Error)
	assert.Equal(t, 3, res.UniqueChunksWritten+res.ReusedChunks)

	stored, err := st.FindByProcessingID(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestIngestFailsWhenNothingIsStored(t *testing.T) {
	st := newMemStore()
	st.failInsert = func(*store.Chunk) error { return errors.New("read-only") }
	svc := NewIngestionService(st, nil, IngestionOptions{})

	res, err := svc.Ingest(context.Background(), IngestRequest{ConversationID: "conv", Chunks: inputsOf("one", "two")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransientStore)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.FailedChunks)
}

func TestIngestReleasesProcessingIDWhenNothingIsStored(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.failInsert = func(*store.Chunk) error { return errors.New("read-only") }
	svc := NewIngestionService(st, nil, IngestionOptions{})

	_, err := svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "v1", Chunks: inputsOf("one", "two")})
	require.ErrorIs(t, err, ErrTransientStore)
	doc, err := st.GetDocument(ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	st.failInsert = nil
	res, err := svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "v1", Chunks: inputsOf("one", "two")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalChunks)
	stored, err := st.FindByProcessingID(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestIngestCountsFailureKeepsVersionImmutable(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.failCounts = errors.New("i/o timeout")
	svc := NewIngestionService(st, nil, IngestionOptions{})
	req := IngestRequest{ConversationID: "conv", ProcessingID: "v1", Chunks: inputsOf("one", "two", "three")}

	res, err := svc.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalChunks)

	_, err = svc.Ingest(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)

	stored, err := st.FindByProcessingID(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestIngestConcurrentSameProcessingID(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	svc := NewIngestionService(st, nil, IngestionOptions{})
	req := IngestRequest{ConversationID: "conv", ProcessingID: "v1", Chunks: inputsOf("one", "two", "three")}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Ingest(ctx, req)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Equal(t, 1, succeeded)

	stored, err := st.FindByProcessingID(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, c := range stored {
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func TestIngestDegradesWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := NewIngestionService(st, &letterEmbedder{err: ErrProviderUnavailable}, IngestionOptions{})

	res, err := svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "v1", Chunks: inputsOf("one", "two")})
	require.NoError(t, err)
	assert.Equal(t, 0, res.FailedChunks)
	for _, o := range res.Chunks {
		assert.False(t, o.Embedded)
	}
	stored, err := st.FindByProcessingID(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestIngestValidationHappensBeforeIO(t *testing.T) {
	tests := []struct {
		name string
		req  IngestRequest
	}{
		{"missing conversation", IngestRequest{Chunks: inputsOf("x")}},
		{"no chunks", IngestRequest{ConversationID: "conv"}},
		{"blank chunk", IngestRequest{ConversationID: "conv", Chunks: inputsOf("ok", "   ")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			svc := NewIngestionService(st, nil, IngestionOptions{})
			_, err := svc.Ingest(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, 0, st.callCount())
		})
	}
}

func TestIngestRejectsReusedProcessingID(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := NewIngestionService(st, nil, IngestionOptions{})

	_, err := svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "v1", Chunks: inputsOf("x")})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "v1", Chunks: inputsOf("y")})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestIngestGeneratesProcessingID(t *testing.T) {
	svc := NewIngestionService(newMemStore(), nil, IngestionOptions{})
	res, err := svc.Ingest(context.Background(), IngestRequest{ConversationID: "conv", Chunks: inputsOf("x")})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ProcessingID)
}

func TestIngestSurfacesLookupFailure(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.failLookup = errors.New("connection reset by peer")
	svc := NewIngestionService(st, nil, IngestionOptions{})
	_, err := svc.Ingest(ctx, IngestRequest{ConversationID: "conv", ProcessingID: "v1", Chunks: inputsOf("x")})
	assert.ErrorIs(t, err, ErrTransientStore)

	doc, err := st.GetDocument(ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, doc, "a failed ingestion must not hold on to its processingId")
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.seed("v1", "alice", "one", "two")
	svc := NewIngestionService(st, nil, IngestionOptions{})

	_, err := svc.DeleteDocument(ctx, "v1", "mallory")
	assert.ErrorIs(t, err, ErrForbidden)

	n, err := svc.DeleteDocument(ctx, "v1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = svc.DeleteDocument(ctx, "v1", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}
