// Package redis provides the Redis-backed embedding cache plugin. Cached
// vectors are keyed by a hash of the embedding model and input text, so
// repeated queries and re-uploads skip the embedding API round trip.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cola-ai/knowledge-service/internal/config"
	registrycache "github.com/cola-ai/knowledge-service/internal/registry/cache"
)

const defaultTTL = 24 * time.Hour

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.EmbeddingCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: KNOWLEDGE_SERVICE_REDIS_URL is required")
	}
	ttl := cfg.EmbedCacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURLWithTTL creates an embedding cache with an explicit default TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.EmbeddingCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisEmbeddingCache{client: client, ttl: ttl}, nil
}

type redisEmbeddingCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func embeddingKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return fmt.Sprintf("embed:%x", sum)
}

func (c *redisEmbeddingCache) Available() bool { return true }

func (c *redisEmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingKey(model, text)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, err
	}
	return embedding, true, nil
}

func (c *redisEmbeddingCache) Set(ctx context.Context, model, text string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, embeddingKey(model, text), data, ttl).Err()
}

var _ registrycache.EmbeddingCache = (*redisEmbeddingCache)(nil)
