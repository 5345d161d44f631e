package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/CeliaPro/ysm2-sub000/internal/auth"
	"github.com/CeliaPro/ysm2-sub000/internal/core"
	"github.com/CeliaPro/ysm2-sub000/internal/store"
)

const maxBodyBytes = 10 << 20

type ctxKey string

const callerKey ctxKey = "caller"

type APIHandler struct {
	comparisons *core.ComparisonService
	ingestion   *core.IngestionService
	schemas     *requestSchemas
}

func NewAPIHandler(cs *core.ComparisonService, is *core.IngestionService) (*APIHandler, error) {
	schemas, err := loadRequestSchemas()
	if err != nil {
		return nil, err
	}
	return &APIHandler{comparisons: cs, ingestion: is, schemas: schemas}, nil
}

// JWTAuthMiddleware puts the token subject in the request context. With no
// JWT secret configured every request passes anonymously.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeFailure(w, http.StatusUnauthorized, "Authorization header is required", "UNAUTHORIZED", "")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		caller, err := auth.ValidateJWT(tokenString)
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, "Invalid token", "UNAUTHORIZED", "")
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey).(string)
	return caller
}

type compareRequest struct {
	Doc1ProcessingID            string   `json:"doc1ProcessingId"`
	Doc2ProcessingID            string   `json:"doc2ProcessingId"`
	UseExactMatching            *bool    `json:"useExactMatching"`
	UseVectorSimilarity         *bool    `json:"useVectorSimilarity"`
	UseLexicalSimilarity        *bool    `json:"useLexicalSimilarity"`
	SemanticSimilarityThreshold *float64 `json:"semanticSimilarityThreshold"`
	LexicalSimilarityThreshold  *float64 `json:"lexicalSimilarityThreshold"`
	UseLLM                      *bool    `json:"useLLM"`
	LLMConfidenceThreshold      *float64 `json:"llmConfidenceThreshold"`
	MaxLLMOps                   *int     `json:"maxLLMOps"`
	EnhanceModifiedChunks       *bool    `json:"enhanceModifiedChunks"`
	ComputeConfidenceScores     *bool    `json:"computeConfidenceScores"`
}

// options overlays the fields present in the request on the defaults.
func (r compareRequest) options() core.ComparisonOptions {
	opts := core.DefaultComparisonOptions()
	setBool(&opts.UseExactMatching, r.UseExactMatching)
	setBool(&opts.UseVectorSimilarity, r.UseVectorSimilarity)
	setBool(&opts.UseLexicalSimilarity, r.UseLexicalSimilarity)
	setBool(&opts.UseLLM, r.UseLLM)
	setBool(&opts.EnhanceModifiedChunks, r.EnhanceModifiedChunks)
	setBool(&opts.ComputeConfidenceScores, r.ComputeConfidenceScores)
	if r.SemanticSimilarityThreshold != nil {
		opts.SemanticSimilarityThreshold = *r.SemanticSimilarityThreshold
	}
	if r.LexicalSimilarityThreshold != nil {
		opts.LexicalSimilarityThreshold = *r.LexicalSimilarityThreshold
	}
	if r.LLMConfidenceThreshold != nil {
		opts.LLMConfidenceThreshold = *r.LLMConfidenceThreshold
	}
	if r.MaxLLMOps != nil {
		opts.MaxLLMOps = *r.MaxLLMOps
	}
	return opts
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

type compareMetadata struct {
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	UsedLLM          bool      `json:"usedLLM"`
}

type compareResponse struct {
	Success    bool                   `json:"success"`
	Comparison *core.ComparisonResult `json:"comparison"`
	Metadata   compareMetadata        `json:"metadata"`
}

func (h *APIHandler) CompareHandler(w http.ResponseWriter, r *http.Request) {
	began := time.Now()

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := validateBody(h.schemas.compare, body); err != nil {
		writeError(w, err)
		return
	}
	var req compareRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", core.ErrValidation, err))
		return
	}

	result, err := h.comparisons.Compare(r.Context(), core.ComparisonRequest{
		LeftProcessingID:  req.Doc1ProcessingID,
		RightProcessingID: req.Doc2ProcessingID,
		Options:           req.options(),
		Caller:            callerFrom(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, compareResponse{
		Success:    true,
		Comparison: result,
		Metadata: compareMetadata{
			Timestamp:        time.Now().UTC(),
			ProcessingTimeMs: time.Since(began).Milliseconds(),
			UsedLLM:          result.Pipeline.UsedLLM,
		},
	})
}

type simpleChunk struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	PageNumber *int   `json:"pageNumber"`
}

type fullChunk struct {
	store.Chunk
	HasVectors bool `json:"hasVectors"`
}

type chunksResponse struct {
	Success      bool   `json:"success"`
	ProcessingID string `json:"processingId"`
	Format       string `json:"format"`
	Count        int    `json:"count"`
	HasVectors   bool   `json:"hasVectors"`
	Chunks       any    `json:"chunks"`
}

func (h *APIHandler) GetChunksHandler(w http.ResponseWriter, r *http.Request) {
	processingID := chi.URLParam(r, "processingID")
	format := r.URL.Query().Get("format")
	if format != "" && format != "simple" && format != "full" {
		writeError(w, fmt.Errorf("%w: format must be \"simple\" or \"full\"", core.ErrValidation))
		return
	}

	chunks, err := h.comparisons.GetChunks(r.Context(), processingID, callerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := chunksResponse{Success: true, ProcessingID: processingID, Count: len(chunks)}
	for _, c := range chunks {
		if c.HasVector() {
			resp.HasVectors = true
			break
		}
	}
	if format == "simple" {
		out := make([]simpleChunk, len(chunks))
		for i, c := range chunks {
			out[i] = simpleChunk{Index: c.ChunkIndex, Text: c.Text, PageNumber: c.PageNumber}
		}
		resp.Format = "simple"
		resp.Chunks = out
	} else {
		out := make([]fullChunk, len(chunks))
		for i, c := range chunks {
			out[i] = fullChunk{Chunk: c, HasVectors: c.HasVector()}
		}
		resp.Format = "full"
		resp.Chunks = out
	}
	writeJSON(w, http.StatusOK, resp)
}

type ingestRequest struct {
	ConversationID string            `json:"conversationId"`
	ProcessingID   string            `json:"processingId"`
	SourceName     string            `json:"sourceName"`
	Metadata       map[string]string `json:"metadata"`
	Text           string            `json:"text"`
	MaxChunkChars  int               `json:"maxChunkChars"`
	Chunks         []core.ChunkInput `json:"chunks"`
}

type ingestResponse struct {
	Success bool `json:"success"`
	*core.IngestionResult
}

func (h *APIHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := validateBody(h.schemas.ingest, body); err != nil {
		writeError(w, err)
		return
	}
	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body: %v", core.ErrValidation, err))
		return
	}

	chunks := req.Chunks
	if len(chunks) == 0 {
		chunks = core.SplitText(req.Text, req.MaxChunkChars)
	}

	result, err := h.ingestion.Ingest(r.Context(), core.IngestRequest{
		ConversationID: req.ConversationID,
		ProcessingID:   req.ProcessingID,
		UploadedBy:     callerFrom(r.Context()),
		SourceName:     req.SourceName,
		Metadata:       req.Metadata,
		Chunks:         chunks,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{Success: true, IngestionResult: result})
}

func (h *APIHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := h.ingestion.ListDocuments(r.Context(), r.URL.Query().Get("conversationId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "documents": docs})
}

func (h *APIHandler) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	processingID := chi.URLParam(r, "processingID")
	deleted, err := h.ingestion.DeleteDocument(r.Context(), processingID, callerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "processingId": processingID, "deletedChunks": deleted})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read request body: %v", core.ErrValidation, err)
	}
	return body, nil
}

type errorResponse struct {
	Success       bool      `json:"success"`
	Error         string    `json:"error"`
	Code          string    `json:"code"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

func statusFor(code string) int {
	switch code {
	case core.CodeValidation:
		return http.StatusBadRequest
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeForbidden:
		return http.StatusForbidden
	case core.CodeStoreUnavailable, core.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto the error taxonomy. Internal errors are logged
// with a correlation id and reported opaquely.
func writeError(w http.ResponseWriter, err error) {
	code := core.ErrorCode(err)
	status := statusFor(code)
	if code == core.CodeInternal {
		correlationID := uuid.NewString()
		log.Printf("Internal error [%s]: %v", correlationID, err)
		writeFailure(w, status, "internal error", code, correlationID)
		return
	}
	if status >= http.StatusInternalServerError {
		log.Printf("Request failed with %s: %v", code, err)
	}
	writeFailure(w, status, err.Error(), code, "")
}

func writeFailure(w http.ResponseWriter, status int, message, code, correlationID string) {
	writeJSON(w, status, errorResponse{
		Success:       false,
		Error:         message,
		Code:          code,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
