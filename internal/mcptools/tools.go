// Package mcptools exposes document comparison over the Model Context
// Protocol so agents can diff ingested versions without the HTTP API.
package mcptools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/CeliaPro/ysm2-sub000/internal/core"
)

type CompareDocumentsInput struct {
	Doc1ProcessingID           string   `json:"doc1ProcessingId" jsonschema:"Processing id of the older document version"`
	Doc2ProcessingID           string   `json:"doc2ProcessingId" jsonschema:"Processing id of the newer document version"`
	UseLLM                     *bool    `json:"useLLM,omitempty" jsonschema:"Adjudicate ambiguous modified chunks with the LLM (optional)"`
	MaxLLMOps                  *int     `json:"maxLLMOps,omitempty" jsonschema:"Hard cap on adjudication calls (optional)"`
	LexicalSimilarityThreshold *float64 `json:"lexicalSimilarityThreshold,omitempty" jsonschema:"Minimum lexical score for a modified pair, 0 to 1 (optional)"`
	SemanticThreshold          *float64 `json:"semanticSimilarityThreshold,omitempty" jsonschema:"Minimum vector-driven score for a modified pair, 0 to 1 (optional)"`
}

type GetDocumentChunksInput struct {
	ProcessingID string `json:"processingId" jsonschema:"Processing id of the document version"`
}

type ChunkSummary struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	PageNumber *int   `json:"pageNumber,omitempty"`
	HasVector  bool   `json:"hasVector"`
}

type GetDocumentChunksOutput struct {
	ProcessingID string         `json:"processingId"`
	Count        int            `json:"count"`
	Chunks       []ChunkSummary `json:"chunks"`
}

// Tools binds the MCP handlers to the comparison service.
type Tools struct {
	comparisons *core.ComparisonService
}

func New(comparisons *core.ComparisonService) *Tools {
	return &Tools{comparisons: comparisons}
}

func (t *Tools) CompareDocuments(ctx context.Context, req *mcp.CallToolRequest, input CompareDocumentsInput) (*mcp.CallToolResult, core.ComparisonResult, error) {
	opts := core.DefaultComparisonOptions()
	if input.UseLLM != nil {
		opts.UseLLM = *input.UseLLM
	}
	if input.MaxLLMOps != nil {
		opts.MaxLLMOps = *input.MaxLLMOps
	}
	if input.LexicalSimilarityThreshold != nil {
		opts.LexicalSimilarityThreshold = *input.LexicalSimilarityThreshold
	}
	if input.SemanticThreshold != nil {
		opts.SemanticSimilarityThreshold = *input.SemanticThreshold
	}

	result, err := t.comparisons.Compare(ctx, core.ComparisonRequest{
		LeftProcessingID:  input.Doc1ProcessingID,
		RightProcessingID: input.Doc2ProcessingID,
		Options:           opts,
	})
	if err != nil {
		return nil, core.ComparisonResult{}, fmt.Errorf("%s: %w", core.ErrorCode(err), err)
	}
	return nil, *result, nil
}

func (t *Tools) GetDocumentChunks(ctx context.Context, req *mcp.CallToolRequest, input GetDocumentChunksInput) (*mcp.CallToolResult, GetDocumentChunksOutput, error) {
	chunks, err := t.comparisons.GetChunks(ctx, input.ProcessingID, "")
	if err != nil {
		return nil, GetDocumentChunksOutput{}, fmt.Errorf("%s: %w", core.ErrorCode(err), err)
	}
	out := GetDocumentChunksOutput{ProcessingID: input.ProcessingID, Count: len(chunks), Chunks: make([]ChunkSummary, len(chunks))}
	for i, c := range chunks {
		out.Chunks[i] = ChunkSummary{Index: c.ChunkIndex, Text: c.Text, PageNumber: c.PageNumber, HasVector: c.HasVector()}
	}
	return nil, out, nil
}

// Register adds the comparison tools to server.
func (t *Tools) Register(server *mcp.Server) {
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "compare_documents",
			Description: "Diff two ingested document versions into unchanged, modified, added and removed chunks with similarity scores.",
		},
		t.CompareDocuments,
	)

	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "get_document_chunks",
			Description: "List the chunks of an ingested document version in order.",
		},
		t.GetDocumentChunks,
	)
}

// NewServer builds an MCP server with the comparison tools registered.
func NewServer(t *Tools, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "docdiff", Version: version}, nil)
	t.Register(server)
	return server
}
