package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/CeliaPro/ysm2-sub000/internal/utils"
)

// RateLimitedEmbedder holds every batch request to a token-bucket rate.
type RateLimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

func NewRateLimitedEmbedder(next Embedder, requestsPerSecond float64, burst int) *RateLimitedEmbedder {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (r *RateLimitedEmbedder) ModelName() string { return r.next.ModelName() }

func (r *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: embedding rate limit wait: %w", ErrProviderUnavailable, err)
	}
	return r.next.EmbedBatch(ctx, texts)
}

// VectorCache stores vectors by key. GetMany returns one slot per key, nil
// on a miss.
type VectorCache interface {
	GetMany(ctx context.Context, keys []string) ([][]float32, error)
	SetMany(ctx context.Context, entries map[string][]float32) error
}

// CachedEmbedder answers from a VectorCache first and only sends the misses
// to the wrapped embedder. Cache failures are logged and bypassed.
type CachedEmbedder struct {
	next  Embedder
	cache VectorCache
}

func NewCachedEmbedder(next Embedder, cache VectorCache) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache}
}

func (c *CachedEmbedder) ModelName() string { return c.next.ModelName() }

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float32, len(texts))
	cached, err := c.cache.GetMany(ctx, keys)
	if err != nil {
		log.Printf("Warning: embedding cache lookup failed, embedding all %d texts: %v", len(texts), err)
		cached = nil
	}

	var missTexts []string
	var missPos []int
	for i := range texts {
		if i < len(cached) && len(cached[i]) > 0 {
			out[i] = cached[i]
			continue
		}
		missTexts = append(missTexts, texts[i])
		missPos = append(missPos, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", ErrProviderUnavailable, len(vecs), len(missTexts))
	}

	fresh := make(map[string][]float32, len(vecs))
	for j, pos := range missPos {
		out[pos] = vecs[j]
		fresh[keys[pos]] = vecs[j]
	}
	if err := c.cache.SetMany(ctx, fresh); err != nil {
		log.Printf("Warning: failed to write %d embeddings to cache: %v", len(fresh), err)
	}
	return out, nil
}

func (c *CachedEmbedder) key(text string) string {
	return "docdiff:embedding:" + c.next.ModelName() + ":" + utils.ContentHash(text)
}

// RedisVectorCache keeps JSON-encoded vectors in Redis with a TTL.
type RedisVectorCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisVectorCache(addr, password string, ttl time.Duration) *RedisVectorCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Failed to connect to Redis at %s: %v. Embedding cache lookups will fall through.", addr, err)
	}
	return &RedisVectorCache{rdb: rdb, ttl: ttl}
}

func (r *RedisVectorCache) Close() error {
	return r.rdb.Close()
}

func (r *RedisVectorCache) GetMany(ctx context.Context, keys []string) ([][]float32, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}
	out := make([][]float32, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil {
			log.Printf("Warning: dropping corrupt cached embedding %s: %v", keys[i], err)
			continue
		}
		out[i] = vec
	}
	return out, nil
}

func (r *RedisVectorCache) SetMany(ctx context.Context, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.rdb.Pipeline()
	for k, vec := range entries {
		b, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		pipe.Set(ctx, k, b, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}
