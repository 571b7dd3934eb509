package namespace

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/cola-ai/knowledge-service/internal/registry/vector"
	"golang.org/x/sync/singleflight"
)

// Registry resolves Keys to live knowledge store handles, one per namespace.
// Resolution is idempotent: repeated calls with the same key return the same
// handle, and concurrent first resolutions are collapsed so exactly one
// physical store is ever constructed per key.
type Registry struct {
	base     string
	provider vector.Provider

	mu     sync.RWMutex
	stores map[string]vector.KnowledgeStore
	group  singleflight.Group
}

// NewRegistry creates a Registry rooted at base, backed by the given provider.
func NewRegistry(base string, provider vector.Provider) *Registry {
	return &Registry{
		base:     base,
		provider: provider,
		stores:   map[string]vector.KnowledgeStore{},
	}
}

// Resolve returns the knowledge store for key, opening it on first use.
// The returned Namespace carries the derived directory and collection name.
func (r *Registry) Resolve(ctx context.Context, key Key) (vector.KnowledgeStore, Namespace, error) {
	ns, err := Derive(r.base, key)
	if err != nil {
		return nil, Namespace{}, err
	}
	ck := key.String()

	r.mu.RLock()
	store, ok := r.stores[ck]
	r.mu.RUnlock()
	if ok {
		return store, ns, nil
	}

	// Collapse concurrent first resolutions of the same key. The winner opens
	// the store and publishes it; losers get the same handle.
	v, err, _ := r.group.Do(ck, func() (interface{}, error) {
		r.mu.RLock()
		cached, ok := r.stores[ck]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}
		opened, err := r.provider.Open(ctx, ns.Dir, ns.Collection)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.stores[ck] = opened
		r.mu.Unlock()
		return opened, nil
	})
	if err != nil {
		return nil, Namespace{}, err
	}
	return v.(vector.KnowledgeStore), ns, nil
}

// Evict closes and drops the cached handle for key, if any. The persisted
// store is left intact; the next Resolve reopens it.
func (r *Registry) Evict(key Key) {
	ck := key.String()
	r.mu.Lock()
	store, ok := r.stores[ck]
	delete(r.stores, ck)
	r.mu.Unlock()
	if ok {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close evicted knowledge store", "namespace", ck, "err", err)
		}
	}
}

// Destroy evicts the cached handle and removes the namespace's persisted
// data entirely. Destroying an absent namespace is not an error.
func (r *Registry) Destroy(ctx context.Context, key Key) error {
	ns, err := Derive(r.base, key)
	if err != nil {
		return err
	}
	r.Evict(key)
	return r.provider.Destroy(ctx, ns.Dir, ns.Collection)
}
