package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/cola-ai/knowledge-service/internal/config"
	"github.com/cola-ai/knowledge-service/internal/namespace"
	routechat "github.com/cola-ai/knowledge-service/internal/plugin/route/chat"
	routedocuments "github.com/cola-ai/knowledge-service/internal/plugin/route/documents"
	routesystem "github.com/cola-ai/knowledge-service/internal/plugin/route/system"
	routethreads "github.com/cola-ai/knowledge-service/internal/plugin/route/threads"
	"github.com/cola-ai/knowledge-service/internal/rag"
	registryblob "github.com/cola-ai/knowledge-service/internal/registry/blob"
	registrycache "github.com/cola-ai/knowledge-service/internal/registry/cache"
	registrychat "github.com/cola-ai/knowledge-service/internal/registry/chat"
	registryembed "github.com/cola-ai/knowledge-service/internal/registry/embed"
	registrymigrate "github.com/cola-ai/knowledge-service/internal/registry/migrate"
	registryroute "github.com/cola-ai/knowledge-service/internal/registry/route"
	registrysegment "github.com/cola-ai/knowledge-service/internal/registry/segment"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
	registryvector "github.com/cola-ai/knowledge-service/internal/registry/vector"
	"github.com/cola-ai/knowledge-service/internal/security"
	"github.com/cola-ai/knowledge-service/internal/service"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config  *config.Config
	Store   registrystore.MetadataStore
	Service *service.Service
	Router  *gin.Engine
	Addr    net.Addr

	httpServer *http.Server
}

// Shutdown gracefully drains the HTTP server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.Store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Listener.Port=0 for a random port; the bound address is in
// Server.Addr.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting knowledge service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"vector", cfg.VectorType,
		"blob", cfg.BlobType,
		"embedding", cfg.EmbedType,
		"chat", cfg.ChatType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize the metadata store.
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	// Initialize the vector provider and the namespace registry over it.
	vectorLoader, err := registryvector.Select(cfg.VectorType)
	if err != nil {
		return nil, err
	}
	provider, err := vectorLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	namespaces := namespace.NewRegistry(cfg.ResolvedVectorDir(), provider)

	// Initialize raw document storage.
	blobLoader, err := registryblob.Select(cfg.BlobType)
	if err != nil {
		return nil, err
	}
	blobs, err := blobLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	// Initialize the embedder and its cache.
	embedLoader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return nil, err
	}
	embedder, err := embedLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var embedCache registrycache.EmbeddingCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Embedding cache not available", "cache", cfg.CacheType, "err", err)
	} else if embedCache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize embedding cache", "cache", cfg.CacheType, "err", err)
		embedCache = nil
	}

	// Initialize the chat model and the retrieval pipeline.
	chatLoader, err := registrychat.Select(cfg.ChatType)
	if err != nil {
		return nil, err
	}
	chatModel, err := chatLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat model: %w", err)
	}

	pipeline := &rag.Pipeline{
		Model: chatModel,
		Retriever: &rag.Retriever{
			Embedder: embedder,
			Cache:    embedCache,
			TopK:     cfg.RetrievalTopK,
			Timeout:  cfg.RetrievalTimeout,
		},
		ModelTimeout: cfg.ModelCallTimeout,
	}

	// Initialize the document segmenter.
	segmentLoader, err := registrysegment.Select(cfg.SegmenterType)
	if err != nil {
		return nil, err
	}
	segmenter, err := segmentLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize segmenter: %w", err)
	}

	svc := service.New(cfg, store, namespaces, blobs, segmenter, embedder, pipeline)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.AccessLogProbes {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.UploadMaxSize))

	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}
	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	// Create shared API key resolver and auth middleware, then mount
	// the API routes behind it.
	resolver := security.NewResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	routechat.MountRoutes(router, svc, auth)
	routethreads.MountRoutes(router, svc, auth)
	routedocuments.MountRoutes(router, svc, auth)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Listener.Port))
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "err", err)
		}
	}()

	log.Info("Server listening", "addr", lis.Addr().String())
	routesystem.MarkReady()

	return &Server{
		Config:     cfg,
		Store:      store,
		Service:    svc,
		Router:     router,
		Addr:       lis.Addr(),
		httpServer: httpServer,
	}, nil
}
