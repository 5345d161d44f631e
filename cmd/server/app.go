package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/CeliaPro/ysm2-sub000/internal/config"
	"github.com/CeliaPro/ysm2-sub000/internal/core"
	"github.com/CeliaPro/ysm2-sub000/internal/retry"
	"github.com/CeliaPro/ysm2-sub000/internal/store"
)

// app holds the wired services for one process.
type app struct {
	store       *store.SQLiteStore
	llm         *core.LLMService
	cache       *core.RedisVectorCache
	ingestion   *core.IngestionService
	comparisons *core.ComparisonService
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.AppConfig

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	dbStore.SetRetryPolicy(retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    5 * time.Second,
		CallTimeout: cfg.StoreTimeout,
	})

	a := &app{store: dbStore}
	providerPolicy := retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    10 * time.Second,
		CallTimeout: cfg.ProviderTimeout,
	}

	if cfg.GeminiAPIKey != "" {
		var embeddingModel string
		if cfg.EmbeddingProvider == "gemini" {
			embeddingModel = cfg.EmbeddingModel
		}
		a.llm, err = core.NewLLMService(ctx, core.LLMServiceConfig{
			APIKey:                        cfg.GeminiAPIKey,
			EmbeddingModel:                embeddingModel,
			AdjudicatorModel:              cfg.AdjudicatorModel,
			Retry:                         providerPolicy,
			AdjudicationRequestsPerSecond: cfg.AdjudicatorRequestsPerSecond,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	embedder := a.buildEmbedder(cfg, providerPolicy)

	// Adjudication is Gemini-only; without a key, LLM requests degrade to heuristic-only.
	var adjudicator core.Adjudicator
	if a.llm != nil {
		adjudicator = a.llm
	}

	a.ingestion = core.NewIngestionService(dbStore, embedder, core.IngestionOptions{
		EmbedBatchSize:  cfg.EmbedBatchSize,
		LookupBatchSize: cfg.StoreLookupBatchSize,
		Concurrency:     cfg.IngestConcurrency,
	})
	a.comparisons = core.NewComparisonService(dbStore, core.NewDiffEngine(embedder, adjudicator))
	return a, nil
}

// buildEmbedder picks the configured provider and layers rate limiting and,
// when Redis is configured, the embedding cache on top. nil means chunks
// are stored without vectors.
func (a *app) buildEmbedder(cfg config.Config, policy retry.Policy) core.Embedder {
	var embedder core.Embedder
	switch cfg.EmbeddingProvider {
	case "gemini":
		if a.llm == nil {
			log.Println("EMBEDDING_PROVIDER=gemini but GEMINI_API_KEY is not set. Chunks will be stored without vectors.")
			return nil
		}
		embedder = a.llm
	case "cohere":
		cohereEmbedder, err := core.NewCohereEmbedder(cfg.CohereAPIKey, cfg.EmbeddingModel, cfg.ProviderTimeout, policy)
		if err != nil {
			log.Printf("Cohere embeddings unavailable: %v. Chunks will be stored without vectors.", err)
			return nil
		}
		embedder = cohereEmbedder
	case "none", "":
		log.Println("Embeddings disabled. Comparisons will use exact and lexical matching only.")
		return nil
	default:
		log.Printf("Unknown EMBEDDING_PROVIDER %q. Chunks will be stored without vectors.", cfg.EmbeddingProvider)
		return nil
	}

	if cfg.EmbedRequestsPerSecond > 0 {
		embedder = core.NewRateLimitedEmbedder(embedder, cfg.EmbedRequestsPerSecond, cfg.IngestConcurrency)
	}
	if cfg.RedisAddr != "" {
		a.cache = core.NewRedisVectorCache(cfg.RedisAddr, cfg.RedisPassword, cfg.EmbeddingCacheTTL)
		embedder = core.NewCachedEmbedder(embedder, a.cache)
	}
	log.Printf("Using embedding model %s", embedder.ModelName())
	return embedder
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}
	if a.llm != nil {
		a.llm.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}
}
