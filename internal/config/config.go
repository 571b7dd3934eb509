package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the knowledge service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode the X-Client-ID header is accepted as the caller identity.
	Mode string

	// DataDir is the root directory for all on-disk state. The metadata
	// database (sqlite backend), per-namespace vector directories, and the
	// raw document tree all live under it unless overridden individually.
	DataDir string

	// Datastore backend type: "sqlite" or "postgres".
	DatastoreType string
	// DBURL is the connection URL for the postgres backend. The sqlite
	// backend derives its file path from DataDir.
	DBURL string
	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Vector backend type: "sqlite" (embedded, per-namespace directory) or "qdrant".
	VectorType string
	// VectorDir overrides the root directory for per-namespace vector stores.
	// Empty means DataDir/knowledge_base.
	VectorDir string

	// Qdrant
	QdrantHost           string
	QdrantPort           int
	QdrantAPIKey         string
	QdrantUseTLS         bool
	QdrantStartupTimeout time.Duration

	// Blob backend type: "fs" (default) or "s3".
	BlobType string
	// BlobDir overrides the root directory for raw uploaded documents.
	// Empty means DataDir/raw_documents.
	BlobDir string

	// S3 (blob backend "s3")
	S3Bucket       string
	S3Prefix       string
	S3UsePathStyle bool

	// Embedder backend type: "openai" or "static".
	EmbedType string

	// Chat model backend type: "openai" or "script".
	ChatType string

	// OpenAI (embedder and chat model)
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIEmbedModel string
	OpenAIChatModel  string
	OpenAIDimensions int

	// Segmenter backend type. "recursive" is the only shipped segmenter.
	SegmenterType string

	// Cache backend type for embedding vectors: "none" or "redis".
	CacheType string
	RedisURL  string
	// EmbedCacheTTL bounds how long a cached embedding vector is reused.
	EmbedCacheTTL time.Duration

	// Retrieval
	RetrievalTopK int
	// ModelCallTimeout bounds each individual chat-model call.
	ModelCallTimeout time.Duration
	// RetrievalTimeout bounds each embed-and-query retrieval round trip.
	RetrievalTimeout time.Duration

	// TitleMaxLen is the truncation limit for auto-generated thread titles.
	TitleMaxLen int

	// Upload
	UploadMaxSize int64

	// Temporary file directory. Empty uses the platform default.
	TempDir string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Server
	Listener ListenerConfig
	// AccessLogProbes enables access logging for /health, /ready and /metrics.
	AccessLogProbes bool

	// Security
	// APIKeys maps API key values to usernames
	// (KNOWLEDGE_SERVICE_API_KEYS_<USERNAME>=<key>).
	APIKeys map[string]string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// DB pool (postgres backend)
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DataDir:                 "data",
		DatastoreType:           "sqlite",
		DatastoreMigrateAtStart: true,
		VectorType:              "sqlite",
		BlobType:                "fs",
		EmbedType:               "openai",
		ChatType:                "openai",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		OpenAIEmbedModel:        "text-embedding-3-small",
		OpenAIChatModel:         "gpt-4o-mini",
		SegmenterType:           "recursive",
		CacheType:               "none",
		EmbedCacheTTL:           24 * time.Hour,
		RetrievalTopK:           5,
		ModelCallTimeout:        60 * time.Second,
		RetrievalTimeout:        30 * time.Second,
		TitleMaxLen:             80,
		UploadMaxSize:           20 * 1024 * 1024, // 20 MB
		QdrantHost:              "localhost",
		QdrantPort:              6334,
		QdrantStartupTimeout:    30 * time.Second,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		DrainTimeout:   30,
		DBMaxOpenConns: 25,
		DBMaxIdleConns: 5,
	}
}

// QdrantAddress returns the host:port gRPC address for the Qdrant backend.
// A host that already carries a port wins over QdrantPort.
func (c *Config) QdrantAddress() string {
	if strings.IndexByte(c.QdrantHost, ':') >= 0 {
		return c.QdrantHost
	}
	port := c.QdrantPort
	if port == 0 {
		port = 6334
	}
	return fmt.Sprintf("%s:%d", c.QdrantHost, port)
}

// ResolvedVectorDir returns the root directory for per-namespace vector stores.
func (c *Config) ResolvedVectorDir() string {
	if dir := strings.TrimSpace(c.VectorDir); dir != "" {
		return dir
	}
	return filepath.Join(c.DataDir, "knowledge_base")
}

// ResolvedBlobDir returns the root directory for raw uploaded documents.
func (c *Config) ResolvedBlobDir() string {
	if dir := strings.TrimSpace(c.BlobDir); dir != "" {
		return dir
	}
	return filepath.Join(c.DataDir, "raw_documents")
}

// ResolvedSQLitePath returns the metadata database file for the sqlite backend.
func (c *Config) ResolvedSQLitePath() string {
	return filepath.Join(c.DataDir, "users.db")
}

// ResolvedTempDir returns the configured temp directory or the platform default.
func (c *Config) ResolvedTempDir() string {
	if c == nil {
		return os.TempDir()
	}
	if dir := strings.TrimSpace(c.TempDir); dir != "" {
		return dir
	}
	return os.TempDir()
}

// ApplyAPIKeysFromEnv collects KNOWLEDGE_SERVICE_API_KEYS_<USERNAME>=<key>
// environment variables into the APIKeys map. The username suffix is
// lowercased, matching how usernames are stored.
func (c *Config) ApplyAPIKeysFromEnv() {
	const prefix = "KNOWLEDGE_SERVICE_API_KEYS_"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		rest := kv[len(prefix):]
		i := strings.IndexByte(rest, '=')
		if i <= 0 {
			continue
		}
		key := rest[i+1:]
		if key == "" {
			continue
		}
		if c.APIKeys == nil {
			c.APIKeys = map[string]string{}
		}
		c.APIKeys[key] = strings.ToLower(rest[:i])
	}
}
