package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/cola-ai/knowledge-service/internal/config"
	registryblob "github.com/cola-ai/knowledge-service/internal/registry/blob"
	registrycache "github.com/cola-ai/knowledge-service/internal/registry/cache"
	registrychat "github.com/cola-ai/knowledge-service/internal/registry/chat"
	registryembed "github.com/cola-ai/knowledge-service/internal/registry/embed"
	registrysegment "github.com/cola-ai/knowledge-service/internal/registry/segment"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
	registryvector "github.com/cola-ai/knowledge-service/internal/registry/vector"

	// Import all plugins to trigger init() registration
	_ "github.com/cola-ai/knowledge-service/internal/plugin/blob/fs"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/blob/s3"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/cache/noop"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/cache/redis"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/chat/openai"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/chat/script"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/embed/openai"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/embed/static"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/route/system"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/segment/recursive"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/store/postgres"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/store/sqlite"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/vector/qdrant"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/vector/sqlitevec"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the knowledge service HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.ApplyAPIKeysFromEnv()
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Security mode (prod|testing); testing accepts X-Client-ID as identity",
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Category:    "Server:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_DATA_DIR"),
			Destination: &cfg.DataDir,
			Value:       cfg.DataDir,
			Usage:       "Root directory for on-disk state (metadata db, vector stores, raw uploads)",
		},
		&cli.StringFlag{
			Name:        "temp-dir",
			Category:    "Server:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_TEMP_DIR"),
			Destination: &cfg.TempDir,
			Usage:       "Directory for temporary files; defaults to OS temp directory",
		},
		&cli.BoolFlag{
			Name:        "access-log-probes",
			Category:    "Server:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_ACCESS_LOG_PROBES"),
			Destination: &cfg.AccessLogProbes,
			Usage:       "Enable HTTP access logging for /health, /ready and /metrics",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},

		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Metadata store backend (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL (postgres backend; sqlite derives its path from --data-dir)",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run datastore migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector store backend (" + strings.Join(registryvector.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "vector-dir",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_VECTOR_DIR"),
			Destination: &cfg.VectorDir,
			Usage:       "Root directory for per-namespace vector stores; defaults to <data-dir>/knowledge_base",
		},
		&cli.StringFlag{
			Name:        "vector-qdrant-host",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_VECTOR_QDRANT_HOST", "KNOWLEDGE_SERVICE_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant host or host:port",
		},
		&cli.StringFlag{
			Name:        "vector-qdrant-api-key",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_VECTOR_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},
		&cli.BoolFlag{
			Name:        "vector-qdrant-tls",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_VECTOR_QDRANT_TLS"),
			Destination: &cfg.QdrantUseTLS,
			Usage:       "Use TLS for the Qdrant gRPC connection",
		},

		// ── Document Storage ──────────────────────────────────────
		&cli.StringFlag{
			Name:        "blob-kind",
			Category:    "Document Storage:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_BLOB_KIND"),
			Destination: &cfg.BlobType,
			Value:       cfg.BlobType,
			Usage:       "Raw document store backend (" + strings.Join(registryblob.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "blob-dir",
			Category:    "Document Storage:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_BLOB_DIR"),
			Destination: &cfg.BlobDir,
			Usage:       "Root directory for raw documents (fs backend); defaults to <data-dir>/raw_documents",
		},
		&cli.StringFlag{
			Name:        "blob-s3-bucket",
			Category:    "Document Storage:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_BLOB_S3_BUCKET"),
			Destination: &cfg.S3Bucket,
			Usage:       "S3 bucket for raw documents",
		},
		&cli.StringFlag{
			Name:        "blob-s3-prefix",
			Category:    "Document Storage:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_BLOB_S3_PREFIX"),
			Destination: &cfg.S3Prefix,
			Usage:       "Key prefix inside the S3 bucket",
		},
		&cli.BoolFlag{
			Name:        "blob-s3-use-path-style",
			Category:    "Document Storage:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_BLOB_S3_USE_PATH_STYLE"),
			Destination: &cfg.S3UsePathStyle,
			Usage:       "Use path-style S3 addressing (required for LocalStack/MinIO)",
		},
		&cli.Int64Flag{
			Name:        "upload-max-size",
			Category:    "Document Storage:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_UPLOAD_MAX_SIZE"),
			Destination: &cfg.UploadMaxSize,
			Value:       cfg.UploadMaxSize,
			Usage:       "Maximum upload size in bytes",
		},

		// ── Models ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Models:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "chat-kind",
			Category:    "Models:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_CHAT_KIND"),
			Destination: &cfg.ChatType,
			Value:       cfg.ChatType,
			Usage:       "Chat model provider (" + strings.Join(registrychat.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Models:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Models:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI-compatible API base URL",
		},
		&cli.StringFlag{
			Name:        "openai-embed-model",
			Category:    "Models:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_OPENAI_EMBED_MODEL"),
			Destination: &cfg.OpenAIEmbedModel,
			Value:       cfg.OpenAIEmbedModel,
			Usage:       "Embedding model name",
		},
		&cli.StringFlag{
			Name:        "openai-chat-model",
			Category:    "Models:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_OPENAI_CHAT_MODEL"),
			Destination: &cfg.OpenAIChatModel,
			Value:       cfg.OpenAIChatModel,
			Usage:       "Chat model name",
		},
		&cli.IntFlag{
			Name:        "retrieval-top-k",
			Category:    "Models:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_RETRIEVAL_TOP_K"),
			Destination: &cfg.RetrievalTopK,
			Value:       cfg.RetrievalTopK,
			Usage:       "Number of nearest segments retrieved per query",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Embedding cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},

		// ── Segmentation ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "segmenter-kind",
			Category:    "Segmentation:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_SEGMENTER_KIND"),
			Destination: &cfg.SegmenterType,
			Value:       cfg.SegmenterType,
			Usage:       "Document segmenter (" + strings.Join(registrysegment.Names(), "|") + ")",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("KNOWLEDGE_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=knowledge-service",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isUploadRequest(c.Request) {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}

// isUploadRequest exempts multipart document uploads from the JSON body
// limit; the ingest path enforces its own size cap while spooling.
func isUploadRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if req.Method != http.MethodPost || req.URL.Path != "/v1/documents" {
		return false
	}
	contentType := strings.ToLower(strings.TrimSpace(req.Header.Get("Content-Type")))
	return strings.HasPrefix(contentType, "multipart/form-data")
}
