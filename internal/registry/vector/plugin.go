package vector

import (
	"context"
	"fmt"
)

// Entry is one vector record in a knowledge store.
type Entry struct {
	ID        string
	Embedding []float32
	Document  string
	Metadata  Metadata
}

// Metadata is the per-entry provenance recorded alongside each vector.
type Metadata struct {
	Username     string `json:"username"`
	SourceFile   string `json:"source_file"`
	ThreadID     *int64 `json:"thread_id"`
	SegmentIndex int    `json:"segment_index"`
}

// Result is one nearest-neighbor hit, ordered by ascending distance.
type Result struct {
	ID       string
	Document string
	Metadata Metadata
	Distance float64
}

// KnowledgeStore is the vector index for a single namespace. Implementations
// must tolerate concurrent readers; writes to one store are serialized by the
// implementation or by the backing engine.
type KnowledgeStore interface {
	// Add inserts or replaces entries by id.
	Add(ctx context.Context, entries []Entry) error
	// Query returns up to topK nearest entries by ascending distance.
	// An empty store yields an empty slice, not an error.
	Query(ctx context.Context, embedding []float32, topK int) ([]Result, error)
	// Delete removes entries by id. Ids that are already gone are skipped.
	Delete(ctx context.Context, ids []string) error
	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)
	// Close releases the store handle. The persisted data stays.
	Close() error
}

// Provider opens and destroys per-namespace knowledge stores. The dir and
// collection arguments are the deterministic identity derived by the
// namespace package; a provider must map equal inputs to the same physical
// store and distinct inputs to distinct ones.
type Provider interface {
	// Open returns the store for the namespace, creating it if absent.
	Open(ctx context.Context, dir, collection string) (KnowledgeStore, error)
	// Destroy removes the namespace's persisted data entirely. Destroying a
	// namespace that was never created (or is already gone) is not an error.
	Destroy(ctx context.Context, dir, collection string) error
	// Name returns the plugin name (e.g. "sqlite", "qdrant").
	Name() string
}

// Loader creates a Provider from config.
type Loader func(ctx context.Context) (Provider, error)

// Plugin represents a vector engine plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector engine plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector engine plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector engine plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector engine %q; valid: %v", name, Names())
}
