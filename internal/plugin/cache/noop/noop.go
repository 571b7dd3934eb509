// Package noop provides the default embedding cache plugin, which caches
// nothing. Every lookup is a miss.
package noop

import (
	"context"
	"time"

	registrycache "github.com/cola-ai/knowledge-service/internal/registry/cache"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "none",
		Loader: func(_ context.Context) (registrycache.EmbeddingCache, error) {
			return &noopCache{}, nil
		},
	})
}

type noopCache struct{}

func (c *noopCache) Available() bool { return false }

func (c *noopCache) Get(_ context.Context, _, _ string) ([]float32, bool, error) {
	return nil, false, nil
}

func (c *noopCache) Set(_ context.Context, _, _ string, _ []float32, _ time.Duration) error {
	return nil
}

var _ registrycache.EmbeddingCache = (*noopCache)(nil)
