package cache

import (
	"context"
	"fmt"
	"time"
)

// EmbeddingCache caches text embeddings keyed by model and input text.
// A cache miss is never an error; backends report only transport
// failures, and callers treat those as misses too.
type EmbeddingCache interface {
	// Available reports whether the backend is configured and reachable.
	Available() bool
	Get(ctx context.Context, model, text string) ([]float32, bool, error)
	Set(ctx context.Context, model, text string, embedding []float32, ttl time.Duration) error
}

// Loader creates an embedding cache from config.
type Loader func(ctx context.Context) (EmbeddingCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
