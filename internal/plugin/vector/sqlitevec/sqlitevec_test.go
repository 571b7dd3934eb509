package sqlitevec

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	registryvector "github.com/cola-ai/knowledge-service/internal/registry/vector"
)

func openStore(t *testing.T, dir string) registryvector.KnowledgeStore {
	t.Helper()
	p := &provider{}
	s, err := p.Open(context.Background(), dir, "teacher_agent_alice")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(id string, embedding ...float32) registryvector.Entry {
	return registryvector.Entry{ID: id, Embedding: embedding, Document: "passage " + id}
}

func TestQueryEmptyStore(t *testing.T) {
	s := openStore(t, t.TempDir())

	results, err := s.Query(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAddQueryDelete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())

	require.NoError(t, s.Add(ctx, []registryvector.Entry{
		entry("v1", 1, 0, 0),
		entry("v2", 0, 1, 0),
		entry("v3", 0.9, 0.1, 0),
	}))

	results, err := s.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "v1", results[0].ID)
	assert.Equal(t, "v3", results[1].ID)
	assert.Less(t, results[0].Distance, results[1].Distance)

	// Deleting an existing and a missing id both succeed.
	require.NoError(t, s.Delete(ctx, []string{"v2", "gone"}))
	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestAddRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())

	require.NoError(t, s.Add(ctx, []registryvector.Entry{entry("v1", 1, 0, 0)}))
	err := s.Add(ctx, []registryvector.Entry{entry("v2", 1, 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestReopenRecoversDimension(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openStore(t, dir)
	require.NoError(t, s.Add(ctx, []registryvector.Entry{entry("v1", 1, 0, 0)}))
	require.NoError(t, s.Close())

	reopened := openStore(t, dir)
	results, err := reopened.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v1", results[0].ID)
}

func TestConcurrentAddAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())

	const pairs = 50
	errs := make(chan error, 2*pairs)
	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		id := fmt.Sprintf("v%03d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.Add(ctx, []registryvector.Entry{entry(id, 1, 0, 0)})
		}()
		go func() {
			defer wg.Done()
			_, err := s.Query(ctx, []float32{1, 0, 0}, 5)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, pairs, count)
}
