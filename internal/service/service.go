// Package service implements the operations behind the HTTP surface:
// document ingestion, thread chat, and the cascading lifecycle deletes
// that keep the relational, vector, and blob substrates consistent.
package service

import (
	"github.com/cola-ai/knowledge-service/internal/config"
	"github.com/cola-ai/knowledge-service/internal/namespace"
	"github.com/cola-ai/knowledge-service/internal/rag"
	registryblob "github.com/cola-ai/knowledge-service/internal/registry/blob"
	registryembed "github.com/cola-ai/knowledge-service/internal/registry/embed"
	registrysegment "github.com/cola-ai/knowledge-service/internal/registry/segment"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
)

// Service bundles the substrates one request touches. All operations
// are scoped to the authenticated username passed per call; a Service
// is shared across requests and safe for concurrent use.
type Service struct {
	Store      registrystore.MetadataStore
	Namespaces *namespace.Registry
	Blobs      registryblob.BlobStore
	Segmenter  registrysegment.Segmenter
	Embedder   registryembed.Embedder
	Pipeline   *rag.Pipeline

	TitleMaxLen   int
	UploadMaxSize int64
	TempDir       string
}

// New wires a Service from loaded plugins and config.
func New(cfg *config.Config, store registrystore.MetadataStore, namespaces *namespace.Registry, blobs registryblob.BlobStore, segmenter registrysegment.Segmenter, embedder registryembed.Embedder, pipeline *rag.Pipeline) *Service {
	return &Service{
		Store:         store,
		Namespaces:    namespaces,
		Blobs:         blobs,
		Segmenter:     segmenter,
		Embedder:      embedder,
		Pipeline:      pipeline,
		TitleMaxLen:   cfg.TitleMaxLen,
		UploadMaxSize: cfg.UploadMaxSize,
		TempDir:       cfg.ResolvedTempDir(),
	}
}
