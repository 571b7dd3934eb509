package rag

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	registrycache "github.com/cola-ai/knowledge-service/internal/registry/cache"
	registryembed "github.com/cola-ai/knowledge-service/internal/registry/embed"
	registryvector "github.com/cola-ai/knowledge-service/internal/registry/vector"
	"github.com/cola-ai/knowledge-service/internal/security"
)

// Retriever embeds a query and performs a nearest-neighbor lookup in a
// namespace's knowledge store. Embeddings go through the configured
// cache; cache failures count as misses and never fail the retrieval.
type Retriever struct {
	Embedder registryembed.Embedder
	Cache    registrycache.EmbeddingCache
	TopK     int
	// Timeout bounds each embed-and-query round trip. Zero disables it.
	Timeout time.Duration
}

// Retrieve returns the TopK nearest entries for query, ordered by
// ascending distance. An empty query or an empty store yields an empty
// result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, store registryvector.KnowledgeStore, query string) ([]registryvector.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	embedding, err := r.embed(ctx, query)
	if err != nil {
		return nil, timeoutErr(ctx, err, ErrRetrievalTimeout)
	}
	results, err := store.Query(ctx, embedding, r.TopK)
	return results, timeoutErr(ctx, err, ErrRetrievalTimeout)
}

func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	model := r.Embedder.ModelName()
	if r.Cache != nil && r.Cache.Available() {
		cached, hit, err := r.Cache.Get(ctx, model, text)
		if err != nil {
			log.Warn("Embedding cache get failed", "err", err)
		}
		if hit {
			if security.EmbedCacheHitsTotal != nil {
				security.EmbedCacheHitsTotal.Inc()
			}
			return cached, nil
		}
		if security.EmbedCacheMissesTotal != nil {
			security.EmbedCacheMissesTotal.Inc()
		}
	}

	embeddings, err := r.Embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	embedding := embeddings[0]

	if r.Cache != nil && r.Cache.Available() {
		if err := r.Cache.Set(ctx, model, text, embedding, 0); err != nil {
			log.Warn("Embedding cache set failed", "err", err)
		}
	}
	return embedding, nil
}

// joinDocuments concatenates retrieved passage texts, one per line.
func joinDocuments(results []registryvector.Result) string {
	docs := make([]string, len(results))
	for i, r := range results {
		docs[i] = r.Document
	}
	return strings.Join(docs, "\n")
}
