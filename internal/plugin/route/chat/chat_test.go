package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cola-ai/knowledge-service/internal/config"
	"github.com/cola-ai/knowledge-service/internal/namespace"
	routechat "github.com/cola-ai/knowledge-service/internal/plugin/route/chat"
	"github.com/cola-ai/knowledge-service/internal/plugin/chat/script"
	"github.com/cola-ai/knowledge-service/internal/plugin/embed/static"
	"github.com/cola-ai/knowledge-service/internal/plugin/store/sqlite"
	"github.com/cola-ai/knowledge-service/internal/rag"
	registrychat "github.com/cola-ai/knowledge-service/internal/registry/chat"
	registrymigrate "github.com/cola-ai/knowledge-service/internal/registry/migrate"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
	registryvector "github.com/cola-ai/knowledge-service/internal/registry/vector"
	"github.com/cola-ai/knowledge-service/internal/security"
	"github.com/cola-ai/knowledge-service/internal/service"
)

type memVectorStore struct {
	mu      sync.Mutex
	entries map[string]registryvector.Entry
}

func (s *memVectorStore) Add(_ context.Context, entries []registryvector.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return nil
}

func (s *memVectorStore) Query(_ context.Context, _ []float32, topK int) ([]registryvector.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var results []registryvector.Result
	for _, e := range s.entries {
		if len(results) == topK {
			break
		}
		results = append(results, registryvector.Result{ID: e.ID, Document: e.Document})
	}
	return results, nil
}

func (s *memVectorStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

func (s *memVectorStore) Count(_ context.Context) (int64, error) { return 0, nil }
func (s *memVectorStore) Close() error                           { return nil }

type memVectorProvider struct{}

func (memVectorProvider) Name() string { return "mem" }
func (memVectorProvider) Open(context.Context, string, string) (registryvector.KnowledgeStore, error) {
	return &memVectorStore{entries: map[string]registryvector.Entry{}}, nil
}
func (memVectorProvider) Destroy(context.Context, string, string) error { return nil }

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DataDir = t.TempDir()
	ctx := config.WithContext(context.Background(), &cfg)

	_ = sqlite.ForceImport
	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	model := script.New(func(messages []registrychat.Message) (string, error) {
		prompt := messages[len(messages)-1].Content
		switch {
		case strings.Contains(prompt, "question triage expert"):
			return "1", nil
		case strings.Contains(prompt, "question refinement expert"):
			return "rewritten", nil
		case strings.Contains(prompt, "conversation title"):
			return "Test Thread", nil
		default:
			return "streamed answer text", nil
		}
	})

	embedder := &static.StaticEmbedder{}
	pipeline := &rag.Pipeline{
		Model:     model,
		Retriever: &rag.Retriever{Embedder: embedder, TopK: cfg.RetrievalTopK},
	}
	namespaces := namespace.NewRegistry(cfg.ResolvedVectorDir(), memVectorProvider{})
	svc := service.New(&cfg, store, namespaces, nil, nil, embedder, pipeline)

	router := gin.New()
	auth := security.AuthMiddleware(security.NewResolver(&cfg))
	routechat.MountRoutes(router, svc, auth)
	return router
}

func TestAskJSON(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"question":"what is this?"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ThreadID int64  `json:"threadId"`
		Answer   string `json:"answer"`
		Tier     int    `json:"tier"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotZero(t, resp.ThreadID)
	assert.Equal(t, "streamed answer text", resp.Answer)
	assert.Equal(t, 1, resp.Tier)
}

func TestAskSSE(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"question":"what is this?"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Client-ID", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: delta")
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, `"threadId"`)
}

func TestAskRequiresAuth(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"question":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAskEmptyQuestion(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"question":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
