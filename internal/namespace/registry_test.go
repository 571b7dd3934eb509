package namespace

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cola-ai/knowledge-service/internal/registry/vector"
)

type fakeStore struct {
	closed atomic.Bool
}

func (s *fakeStore) Add(ctx context.Context, entries []vector.Entry) error { return nil }
func (s *fakeStore) Query(ctx context.Context, embedding []float32, topK int) ([]vector.Result, error) {
	return nil, nil
}
func (s *fakeStore) Delete(ctx context.Context, ids []string) error { return nil }
func (s *fakeStore) Count(ctx context.Context) (int64, error)       { return 0, nil }
func (s *fakeStore) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeProvider struct {
	mu        sync.Mutex
	opens     int
	destroyed []string
	stores    map[string]*fakeStore
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Open(ctx context.Context, dir, collection string) (vector.KnowledgeStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens++
	if p.stores == nil {
		p.stores = map[string]*fakeStore{}
	}
	s := &fakeStore{}
	p.stores[collection] = s
	return s, nil
}

func (p *fakeProvider) Destroy(ctx context.Context, dir, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = append(p.destroyed, collection)
	return nil
}

func TestRegistryResolveReusesStore(t *testing.T) {
	p := &fakeProvider{}
	r := NewRegistry("base", p)

	ctx := context.Background()
	a, _, err := r.Resolve(ctx, WithThread("alice", 1))
	require.NoError(t, err)
	b, _, err := r.Resolve(ctx, WithThread("alice", 1))
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, p.opens)
}

func TestRegistryResolveConcurrent(t *testing.T) {
	p := &fakeProvider{}
	r := NewRegistry("base", p)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Resolve(context.Background(), WithThread("alice", 1))
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, p.opens)
}

func TestRegistryEvictClosesStore(t *testing.T) {
	p := &fakeProvider{}
	r := NewRegistry("base", p)

	ctx := context.Background()
	_, _, err := r.Resolve(ctx, ForUser("alice"))
	require.NoError(t, err)

	r.Evict(ForUser("alice"))
	require.True(t, p.stores["teacher_agent_alice"].closed.Load())

	// A fresh resolve opens a new store.
	_, _, err = r.Resolve(ctx, ForUser("alice"))
	require.NoError(t, err)
	require.Equal(t, 2, p.opens)
}

func TestRegistryDestroy(t *testing.T) {
	p := &fakeProvider{}
	r := NewRegistry("base", p)

	ctx := context.Background()
	_, _, err := r.Resolve(ctx, WithThread("bob", 3))
	require.NoError(t, err)

	require.NoError(t, r.Destroy(ctx, WithThread("bob", 3)))
	require.Equal(t, []string{"teacher_agent_bob_thread_3"}, p.destroyed)
	require.True(t, p.stores["teacher_agent_bob_thread_3"].closed.Load())
}
