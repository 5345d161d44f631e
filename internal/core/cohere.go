package core

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"

	"github.com/CeliaPro/ysm2-sub000/internal/retry"
)

const defaultCohereModel = "embed-english-v3.0"

// CohereEmbedder implements Embedder using the Cohere Embed API (v2).
type CohereEmbedder struct {
	client *cohereclient.Client
	model  string
	policy retry.Policy
}

func NewCohereEmbedder(apiKey, model string, timeout time.Duration, policy retry.Policy) (*CohereEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: cohere api key is not configured", ErrProviderUnavailable)
	}
	if model == "" || !strings.HasPrefix(model, "embed-") {
		model = defaultCohereModel
	}
	// HTTP/1.1 only; the embed endpoint has been flaky over HTTP/2.
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			ForceAttemptHTTP2: false,
		},
	}
	client := cohereclient.NewClient(
		cohereclient.WithToken(apiKey),
		cohereclient.WithHTTPClient(httpClient),
	)
	return &CohereEmbedder{client: client, model: model, policy: policy}, nil
}

func (c *CohereEmbedder) ModelName() string { return "cohere/" + c.model }

func (c *CohereEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))
		vecs, err := retry.DoValue(ctx, c.policy, retry.IsTransient, func(ctx context.Context) ([][]float32, error) {
			return c.embedOnce(ctx, texts[start:end])
		})
		if err != nil {
			return nil, fmt.Errorf("%w: cohere embedding: %w", ErrProviderUnavailable, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *CohereEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.V2.Embed(
		ctx,
		&cohere.V2EmbedRequest{
			Texts:          texts,
			Model:          c.model,
			InputType:      cohere.EmbedInputTypeSearchDocument,
			EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("cohere embed error: %w", err)
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, errors.New("cohere embed returned no float embeddings")
	}

	floats := resp.Embeddings.Float
	if len(floats) != len(texts) {
		return nil, fmt.Errorf("cohere returned %d embeddings for %d texts", len(floats), len(texts))
	}
	out := make([][]float32, len(floats))
	for i, vec := range floats {
		fv := make([]float32, len(vec))
		for j, v := range vec {
			fv[j] = float32(v)
		}
		out[i] = fv
	}
	return out, nil
}
