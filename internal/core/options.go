package core

import (
	"fmt"
	"math"

	"github.com/CeliaPro/ysm2-sub000/internal/config"
)

// ComparisonOptions tunes the diff matching engine. Thresholds lie in [0,1].
type ComparisonOptions struct {
	UseExactMatching            bool    `json:"useExactMatching"`
	UseVectorSimilarity         bool    `json:"useVectorSimilarity"`
	UseLexicalSimilarity        bool    `json:"useLexicalSimilarity"`
	SemanticSimilarityThreshold float64 `json:"semanticSimilarityThreshold"`
	LexicalSimilarityThreshold  float64 `json:"lexicalSimilarityThreshold"`
	UseLLM                      bool    `json:"useLLM"`
	LLMConfidenceThreshold      float64 `json:"llmConfidenceThreshold"`
	MaxLLMOps                   int     `json:"maxLLMOps"`
	EnhanceModifiedChunks       bool    `json:"enhanceModifiedChunks"`
	ComputeConfidenceScores     bool    `json:"computeConfidenceScores"`
}

// DefaultComparisonOptions enables every heuristic signal and takes the
// thresholds, the LLM budget and the LLM toggle from config.AppConfig as
// they are. A configured budget of 0 disables adjudication.
func DefaultComparisonOptions() ComparisonOptions {
	cfg := config.AppConfig
	return ComparisonOptions{
		UseExactMatching:            true,
		UseVectorSimilarity:         true,
		UseLexicalSimilarity:        true,
		SemanticSimilarityThreshold: cfg.SemanticSimilarityThreshold,
		LexicalSimilarityThreshold:  cfg.LexicalSimilarityThreshold,
		UseLLM:                      cfg.UseLLM,
		LLMConfidenceThreshold:      cfg.LLMConfidenceThreshold,
		MaxLLMOps:                   cfg.MaxLLMOps,
		EnhanceModifiedChunks:       true,
		ComputeConfidenceScores:     true,
	}
}

// Validate rejects out-of-range thresholds, a negative budget, or a
// configuration with every matching signal switched off.
func (o ComparisonOptions) Validate() error {
	thresholds := []struct {
		name  string
		value float64
	}{
		{"semanticSimilarityThreshold", o.SemanticSimilarityThreshold},
		{"lexicalSimilarityThreshold", o.LexicalSimilarityThreshold},
		{"llmConfidenceThreshold", o.LLMConfidenceThreshold},
	}
	for _, t := range thresholds {
		if math.IsNaN(t.value) || t.value < 0 || t.value > 1 {
			return validationErrorf("%s must be between 0 and 1, got %v", t.name, t.value)
		}
	}
	if o.MaxLLMOps < 0 {
		return validationErrorf("maxLLMOps must be >= 0, got %d", o.MaxLLMOps)
	}
	if !o.UseExactMatching && !o.UseVectorSimilarity && !o.UseLexicalSimilarity {
		return validationErrorf("at least one of exact, vector or lexical matching must be enabled")
	}
	return nil
}

func (o ComparisonOptions) fuzzyEnabled() bool {
	return o.UseVectorSimilarity || o.UseLexicalSimilarity
}

func (o ComparisonOptions) String() string {
	return fmt.Sprintf("exact=%t vector=%t lexical=%t semantic>=%.2f lexical>=%.2f llm=%t(<%.2f, max %d)",
		o.UseExactMatching, o.UseVectorSimilarity, o.UseLexicalSimilarity,
		o.SemanticSimilarityThreshold, o.LexicalSimilarityThreshold,
		o.UseLLM, o.LLMConfidenceThreshold, o.MaxLLMOps)
}
