package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey      string
	CohereAPIKey      string
	EmbeddingProvider string // "gemini", "cohere" or "none"
	EmbeddingModel    string
	AdjudicatorModel  string
	DatabaseURL       string
	HTTPPort          string
	LogLevel          string
	JWTSecret         string // empty disables bearer auth

	RedisAddr         string // empty disables the embedding cache
	RedisPassword     string
	EmbeddingCacheTTL time.Duration

	EmbedBatchSize         int
	StoreLookupBatchSize   int
	IngestConcurrency      int
	EmbedRequestsPerSecond float64

	// AdjudicatorRequestsPerSecond paces LLM adjudication calls; 0 disables pacing.
	AdjudicatorRequestsPerSecond float64

	ProviderTimeout  time.Duration
	StoreTimeout     time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Comparison defaults, overridable per request.
	SemanticSimilarityThreshold float64
	LexicalSimilarityThreshold  float64
	LLMConfidenceThreshold      float64
	MaxLLMOps                   int
	UseLLM                      bool
}

// AppConfig starts out holding the built-in defaults, so code that reads
// it before LoadConfig (tests, mostly) sees the same values a bare
// environment would produce.
var AppConfig = defaultConfig()

func defaultConfig() Config {
	return Config{
		EmbeddingProvider: "gemini",
		DatabaseURL:       "docdiff.db",
		HTTPPort:          "8080",
		LogLevel:          "INFO",

		EmbeddingCacheTTL: 7 * 24 * time.Hour,

		EmbedBatchSize:               100,
		StoreLookupBatchSize:         100,
		IngestConcurrency:            8,
		EmbedRequestsPerSecond:       25, // 1500/min
		AdjudicatorRequestsPerSecond: 2,

		ProviderTimeout:  60 * time.Second,
		StoreTimeout:     10 * time.Second,
		RetryMaxAttempts: 3,
		RetryBaseDelay:   200 * time.Millisecond,

		SemanticSimilarityThreshold: 0.85,
		LexicalSimilarityThreshold:  0.6,
		LLMConfidenceThreshold:      0.75,
		MaxLLMOps:                   10,
	}
}

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	d := defaultConfig()
	AppConfig = Config{
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		CohereAPIKey:      getEnv("COHERE_API_KEY", ""),
		EmbeddingProvider: strings.ToLower(getEnv("EMBEDDING_PROVIDER", d.EmbeddingProvider)),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", ""),
		AdjudicatorModel:  getEnv("ADJUDICATOR_MODEL", ""),
		DatabaseURL:       getEnv("DATABASE_URL", d.DatabaseURL),
		HTTPPort:          getEnv("HTTP_PORT", d.HTTPPort),
		LogLevel:          getEnv("LOG_LEVEL", d.LogLevel),
		JWTSecret:         getEnv("JWT_SECRET", ""),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASS", ""),
		EmbeddingCacheTTL: getEnvAsDuration("EMBEDDING_CACHE_TTL", d.EmbeddingCacheTTL),

		EmbedBatchSize:               clampBatch(getEnvAsInt("EMBED_BATCH_SIZE", d.EmbedBatchSize)),
		StoreLookupBatchSize:         clampBatch(getEnvAsInt("STORE_LOOKUP_BATCH_SIZE", d.StoreLookupBatchSize)),
		IngestConcurrency:            getEnvAsInt("INGEST_CONCURRENCY", d.IngestConcurrency),
		EmbedRequestsPerSecond:       getEnvAsFloat("EMBED_REQUESTS_PER_SECOND", d.EmbedRequestsPerSecond),
		AdjudicatorRequestsPerSecond: getEnvAsFloat("ADJUDICATOR_REQUESTS_PER_SECOND", d.AdjudicatorRequestsPerSecond),

		ProviderTimeout:  getEnvAsDuration("PROVIDER_TIMEOUT", d.ProviderTimeout),
		StoreTimeout:     getEnvAsDuration("STORE_TIMEOUT", d.StoreTimeout),
		RetryMaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", d.RetryMaxAttempts),
		RetryBaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", d.RetryBaseDelay),

		SemanticSimilarityThreshold: getEnvAsFloat("SEMANTIC_SIMILARITY_THRESHOLD", d.SemanticSimilarityThreshold),
		LexicalSimilarityThreshold:  getEnvAsFloat("LEXICAL_SIMILARITY_THRESHOLD", d.LexicalSimilarityThreshold),
		LLMConfidenceThreshold:      getEnvAsFloat("LLM_CONFIDENCE_THRESHOLD", d.LLMConfidenceThreshold),
		MaxLLMOps:                   getEnvAsInt("MAX_LLM_OPS", d.MaxLLMOps),
		UseLLM:                      getEnvAsBool("USE_LLM", false),
	}
	AppConfig.resetOutOfRange(d)

	switch AppConfig.EmbeddingProvider {
	case "gemini":
		if AppConfig.GeminiAPIKey == "" {
			log.Println("GEMINI_API_KEY not set, embeddings and LLM adjudication are disabled")
		}
	case "cohere":
		if AppConfig.CohereAPIKey == "" {
			log.Println("COHERE_API_KEY not set, embeddings are disabled")
		}
	case "none":
	default:
		log.Printf("Unknown EMBEDDING_PROVIDER %q, embeddings are disabled", AppConfig.EmbeddingProvider)
	}

	if AppConfig.JWTSecret == "" {
		log.Println("JWT_SECRET not set, API runs without caller authentication")
	}
}

// resetOutOfRange puts back the default for any comparison setting that
// would make every request fail validation. Zero is a valid value for all
// of them.
func (c *Config) resetOutOfRange(d Config) {
	thresholds := []struct {
		key      string
		value    *float64
		fallback float64
	}{
		{"SEMANTIC_SIMILARITY_THRESHOLD", &c.SemanticSimilarityThreshold, d.SemanticSimilarityThreshold},
		{"LEXICAL_SIMILARITY_THRESHOLD", &c.LexicalSimilarityThreshold, d.LexicalSimilarityThreshold},
		{"LLM_CONFIDENCE_THRESHOLD", &c.LLMConfidenceThreshold, d.LLMConfidenceThreshold},
	}
	for _, t := range thresholds {
		if math.IsNaN(*t.value) || *t.value < 0 || *t.value > 1 {
			log.Printf("%s=%v is outside [0,1], using %v", t.key, *t.value, t.fallback)
			*t.value = t.fallback
		}
	}
	if c.MaxLLMOps < 0 {
		log.Printf("MAX_LLM_OPS=%d is negative, using %d", c.MaxLLMOps, d.MaxLLMOps)
		c.MaxLLMOps = d.MaxLLMOps
	}
}

func clampBatch(n int) int {
	if n < 1 || n > 100 {
		return 100
	}
	return n
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
