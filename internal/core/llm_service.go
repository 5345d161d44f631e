package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/CeliaPro/ysm2-sub000/internal/retry"
	"github.com/CeliaPro/ysm2-sub000/internal/utils"
)

const (
	defaultEmbeddingModelName   = "text-embedding-004"
	defaultAdjudicatorModelName = "gemini-1.5-flash-latest"

	// maxEmbedBatch is the provider-side ceiling for one batch request.
	maxEmbedBatch = 100

	adjudicatorSystemInstruction = "You compare two versions of the same passage from a document. " +
		"Decide how confident you are that the newer passage is a revision of the older one rather than unrelated text. " +
		"Respond with a JSON object with two fields: \"confidence\", a number between 0 and 1, and " +
		"\"diffHighlight\", the newer passage with removed words wrapped as [-word-] and inserted words wrapped as {+word+}. " +
		"Return only the JSON object."
)

// LLMServiceConfig configures the Gemini-backed embedder and adjudicator.
type LLMServiceConfig struct {
	APIKey           string
	EmbeddingModel   string
	AdjudicatorModel string
	Retry            retry.Policy

	// AdjudicationRequestsPerSecond bounds adjudication calls; 0 disables
	// the limiter. Embedding calls are paced by RateLimitedEmbedder instead.
	AdjudicationRequestsPerSecond float64
}

// LLMService implements Embedder and Adjudicator on top of Gemini.
type LLMService struct {
	client           *genai.Client
	embeddingModel   string
	adjudicatorModel string
	policy           retry.Policy
	limiter          *rate.Limiter
}

func NewLLMService(ctx context.Context, cfg LLMServiceConfig) (*LLMService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is not configured", ErrProviderUnavailable)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	s := &LLMService{
		client:           client,
		embeddingModel:   cfg.EmbeddingModel,
		adjudicatorModel: cfg.AdjudicatorModel,
		policy:           cfg.Retry,
	}
	if s.embeddingModel == "" {
		s.embeddingModel = defaultEmbeddingModelName
	}
	if s.adjudicatorModel == "" {
		s.adjudicatorModel = defaultAdjudicatorModelName
	}
	if cfg.AdjudicationRequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AdjudicationRequestsPerSecond), 1)
	}
	return s, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

func (s *LLMService) ModelName() string {
	return "gemini/" + s.embeddingModel
}

// EmbedBatch embeds texts with one BatchEmbedContents call per provider batch.
func (s *LLMService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))
		batch, err := retry.DoValue(ctx, s.policy, retry.IsTransient, func(ctx context.Context) ([][]float32, error) {
			return s.embedOnce(ctx, texts[start:end])
		})
		if err != nil {
			return nil, fmt.Errorf("%w: gemini embedding: %w", ErrProviderUnavailable, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (s *LLMService) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	em := s.client.EmbeddingModel(s.embeddingModel)
	em.TaskType = genai.TaskTypeSemanticSimilarity
	b := em.NewBatch()
	for _, t := range texts {
		b.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embedding request failed: %w", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		got := 0
		if res != nil {
			got = len(res.Embeddings)
		}
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", got, len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("no embedding data received from gemini for text %d", i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

// Adjudicate asks the model whether rightText is a revision of leftText.
func (s *LLMService) Adjudicate(ctx context.Context, leftText, rightText string) (Adjudication, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Adjudication{}, err
		}
	}

	model := s.client.GenerativeModel(s.adjudicatorModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(adjudicatorSystemInstruction)},
	}
	temp := float32(0)
	maxTokens := int32(1024)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens:  &maxTokens,
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	}

	prompt := fmt.Sprintf("Older passage:\n%s\n\nNewer passage:\n%s", leftText, rightText)

	adj, err := retry.DoValue(ctx, s.policy, retry.IsTransient, func(ctx context.Context) (Adjudication, error) {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return Adjudication{}, fmt.Errorf("gemini adjudication request failed: %w", err)
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			return Adjudication{}, fmt.Errorf("LLM did not return an adjudication (empty response)")
		}

		var out strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				out.WriteString(string(txt))
			}
		}
		return parseAdjudication(out.String())
	})
	if err != nil {
		return Adjudication{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return adj, nil
}

// parseAdjudication decodes the model's JSON verdict, tolerating a
// surrounding markdown code fence.
func parseAdjudication(raw string) (Adjudication, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var adj Adjudication
	if err := json.Unmarshal([]byte(raw), &adj); err != nil {
		return Adjudication{}, fmt.Errorf("failed to decode adjudication %q: %w", raw, err)
	}
	adj.Confidence = utils.Clamp01(adj.Confidence)
	return adj, nil
}
