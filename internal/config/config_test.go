package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "none")
	t.Setenv("EMBED_BATCH_SIZE", "500")
	t.Setenv("MAX_LLM_OPS", "3")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("USE_LLM", "true")

	LoadConfig()

	assert.Equal(t, "none", AppConfig.EmbeddingProvider)
	assert.Equal(t, 100, AppConfig.EmbedBatchSize)
	assert.Equal(t, 100, AppConfig.StoreLookupBatchSize)
	assert.Equal(t, 3, AppConfig.MaxLLMOps)
	assert.Equal(t, 5*time.Second, AppConfig.ProviderTimeout)
	assert.True(t, AppConfig.UseLLM)
	assert.Equal(t, 0.6, AppConfig.LexicalSimilarityThreshold)
}

func TestLoadConfig_ZeroBudgetAndThresholdsAreKept(t *testing.T) {
	t.Setenv("MAX_LLM_OPS", "0")
	t.Setenv("SEMANTIC_SIMILARITY_THRESHOLD", "0")

	LoadConfig()

	assert.Equal(t, 0, AppConfig.MaxLLMOps)
	assert.Equal(t, 0.0, AppConfig.SemanticSimilarityThreshold)
}

func TestLoadConfig_OutOfRangeFallsBackToDefault(t *testing.T) {
	t.Setenv("LEXICAL_SIMILARITY_THRESHOLD", "1.5")
	t.Setenv("LLM_CONFIDENCE_THRESHOLD", "-0.2")
	t.Setenv("MAX_LLM_OPS", "-1")

	LoadConfig()

	d := defaultConfig()
	assert.Equal(t, d.LexicalSimilarityThreshold, AppConfig.LexicalSimilarityThreshold)
	assert.Equal(t, d.LLMConfidenceThreshold, AppConfig.LLMConfidenceThreshold)
	assert.Equal(t, d.MaxLLMOps, AppConfig.MaxLLMOps)
}

func TestLoadConfig_SeparateAdjudicatorRate(t *testing.T) {
	t.Setenv("EMBED_REQUESTS_PER_SECOND", "50")
	t.Setenv("ADJUDICATOR_REQUESTS_PER_SECOND", "0.5")

	LoadConfig()

	assert.Equal(t, 50.0, AppConfig.EmbedRequestsPerSecond)
	assert.Equal(t, 0.5, AppConfig.AdjudicatorRequestsPerSecond)
}

func TestGetEnvHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_FLOAT", "1.x")
	t.Setenv("X_DUR", "soon")
	assert.Equal(t, 7, getEnvAsInt("X_INT", 7))
	assert.Equal(t, 0.5, getEnvAsFloat("X_FLOAT", 0.5))
	assert.Equal(t, time.Minute, getEnvAsDuration("X_DUR", time.Minute))
}
