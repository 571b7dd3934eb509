package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cola-ai/knowledge-service/internal/config"
	"github.com/cola-ai/knowledge-service/internal/model"
	"github.com/cola-ai/knowledge-service/internal/namespace"
	"github.com/cola-ai/knowledge-service/internal/plugin/blob/fs"
	"github.com/cola-ai/knowledge-service/internal/plugin/chat/script"
	"github.com/cola-ai/knowledge-service/internal/plugin/embed/static"
	"github.com/cola-ai/knowledge-service/internal/plugin/store/sqlite"
	"github.com/cola-ai/knowledge-service/internal/rag"
	registryblob "github.com/cola-ai/knowledge-service/internal/registry/blob"
	registrychat "github.com/cola-ai/knowledge-service/internal/registry/chat"
	registrymigrate "github.com/cola-ai/knowledge-service/internal/registry/migrate"
	registrysegment "github.com/cola-ai/knowledge-service/internal/registry/segment"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
	registryvector "github.com/cola-ai/knowledge-service/internal/registry/vector"
	"github.com/cola-ai/knowledge-service/internal/service"
)

// memVectorStore is an in-memory knowledge store for tests.
type memVectorStore struct {
	mu      sync.Mutex
	entries map[string]registryvector.Entry
	queries int
	closed  bool
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
	s.queries++
	var results []registryvector.Result
	for _, e := range s.entries {
		if len(results) == topK {
			break
		}
		results = append(results, registryvector.Result{ID: e.ID, Document: e.Document, Metadata: e.Metadata})
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

func (s *memVectorStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *memVectorStore) Close() error { s.closed = true; return nil }

// memVectorProvider tracks the stores it opened and destroyed per
// directory, standing in for an on-disk backend.
type memVectorProvider struct {
	mu        sync.Mutex
	stores    map[string]*memVectorStore
	destroyed []string
}

func newMemVectorProvider() *memVectorProvider {
	return &memVectorProvider{stores: map[string]*memVectorStore{}}
}

func (p *memVectorProvider) Name() string { return "mem" }

func (p *memVectorProvider) Open(_ context.Context, dir, collection string) (registryvector.KnowledgeStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := dir + "/" + collection
	if s, ok := p.stores[key]; ok {
		return s, nil
	}
	s := &memVectorStore{entries: map[string]registryvector.Entry{}}
	p.stores[key] = s
	return s, nil
}

func (p *memVectorProvider) Destroy(_ context.Context, dir, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stores, dir+"/"+collection)
	p.destroyed = append(p.destroyed, dir)
	return nil
}

func (p *memVectorProvider) store(dir, collection string) *memVectorStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stores[dir+"/"+collection]
}

// lineSegmenter accepts any extension and emits one segment per
// non-empty line, sidestepping binary document formats in tests.
type lineSegmenter struct{}

func (lineSegmenter) Supports(string) bool { return true }

func (lineSegmenter) Segment(_ context.Context, _ string, r io.Reader) ([]registrysegment.Segment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var segments []registrysegment.Segment
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			segments = append(segments, registrysegment.Segment{Index: len(segments) + 1, Text: line})
		}
	}
	if len(segments) == 0 {
		return nil, registrysegment.ErrEmptyContent
	}
	return segments, nil
}

type harness struct {
	svc      *service.Service
	store    registrystore.MetadataStore
	blobs    registryblob.BlobStore
	provider *memVectorProvider
	cfg      *config.Config
	ctx      context.Context
}

func setup(t *testing.T) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DatastoreType = "sqlite"
	ctx := config.WithContext(context.Background(), &cfg)

	_ = sqlite.ForceImport
	_ = fs.ForceImport

	require.NoError(t, registrymigrate.RunAll(ctx))

	storeLoader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	metaStore, err := storeLoader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = metaStore.Close() })

	blobLoader, err := registryblob.Select("fs")
	require.NoError(t, err)
	blobs, err := blobLoader(ctx)
	require.NoError(t, err)

	provider := newMemVectorProvider()
	namespaces := namespace.NewRegistry(cfg.ResolvedVectorDir(), provider)

	model := script.New(func(messages []registrychat.Message) (string, error) {
		prompt := messages[len(messages)-1].Content
		switch {
		case strings.Contains(prompt, "question triage expert"):
			return "1", nil
		case strings.Contains(prompt, "question refinement expert"):
			return prompt[strings.LastIndex(prompt, "Question: ")+len("Question: "):], nil
		case strings.Contains(prompt, "conversation title"):
			return "Delivery Logistics Of The Migratory Stork Fleet Across Northern Europe", nil
		default:
			return "the final answer", nil
		}
	})

	embedder := &static.StaticEmbedder{}
	pipeline := &rag.Pipeline{
		Model:     model,
		Retriever: &rag.Retriever{Embedder: embedder, TopK: cfg.RetrievalTopK},
	}

	svc := service.New(&cfg, metaStore, namespaces, blobs, lineSegmenter{}, embedder, pipeline)
	return &harness{svc: svc, store: metaStore, blobs: blobs, provider: provider, cfg: &cfg, ctx: ctx}
}

func upload(t *testing.T, h *harness, username string, threadID *int64, filename, content string) int64 {
	t.Helper()
	doc, err := h.svc.UploadDocument(h.ctx, username, threadID, filename, strings.NewReader(content))
	require.NoError(t, err)
	return doc.ID
}

func TestUploadDocumentIndexesSegments(t *testing.T) {
	h := setup(t)

	thread, err := h.svc.CreateThread(h.ctx, "alice", "")
	require.NoError(t, err)

	doc, err := h.svc.UploadDocument(h.ctx, "alice", &thread.ID, "report.pdf",
		strings.NewReader("first passage\nsecond passage\nthird passage"))
	require.NoError(t, err)
	assert.Equal(t, 3, doc.SegmentCount)
	assert.Equal(t, "report.pdf", doc.OriginalFilename)
	assert.NotEqual(t, "report.pdf", doc.Filename, "stored filename should be uniquified")

	segments, err := h.store.ListSegments(h.ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Equal(t, "first passage", segments[0].Preview)
	assert.Equal(t, 1, segments[0].SegmentIndex)
	assert.Equal(t, 3, segments[2].SegmentIndex)
	assert.Contains(t, segments[0].VectorID, fmt.Sprintf("alice__thread_%d__", thread.ID))
	assert.True(t, strings.HasSuffix(segments[0].VectorID, "_seg_0001"), segments[0].VectorID)

	// One vector per segment row.
	ns, err := namespace.Derive(h.cfg.ResolvedVectorDir(), namespace.WithThread("alice", thread.ID))
	require.NoError(t, err)
	vs := h.provider.store(ns.Dir, ns.Collection)
	require.NotNil(t, vs)
	count, err := vs.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// The raw upload is retrievable from blob storage.
	rc, err := h.blobs.Retrieve(h.ctx, registryblob.Key("alice", &thread.ID, doc.Filename))
	require.NoError(t, err)
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "first passage\nsecond passage\nthird passage", string(raw))
}

func TestUploadDocumentRejectsUnsupportedType(t *testing.T) {
	h := setup(t)
	h.svc.Segmenter = rejectingSegmenter{}

	_, err := h.svc.UploadDocument(h.ctx, "alice", nil, "notes.txt", strings.NewReader("hello"))
	var ve *registrystore.ValidationError
	require.True(t, errors.As(err, &ve))
}

type rejectingSegmenter struct{ lineSegmenter }

func (rejectingSegmenter) Supports(string) bool { return false }

func TestUploadDocumentRejectsOversize(t *testing.T) {
	h := setup(t)
	h.svc.UploadMaxSize = 16

	_, err := h.svc.UploadDocument(h.ctx, "alice", nil, "big.pdf",
		strings.NewReader(strings.Repeat("x", 64)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")
}

func TestUploadDocumentUnknownThread(t *testing.T) {
	h := setup(t)
	missing := int64(9999)

	_, err := h.svc.UploadDocument(h.ctx, "alice", &missing, "report.pdf", strings.NewReader("text"))
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))
}

func TestAskCreatesThreadAndPersistsTurn(t *testing.T) {
	h := setup(t)

	var streamed strings.Builder
	result, err := h.svc.Ask(h.ctx, "alice", nil, "how do storks deliver?", func(delta string) error {
		streamed.WriteString(delta)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, result.Thread)
	assert.Equal(t, "the final answer", result.Answer.Text)
	assert.Equal(t, result.Answer.Text, streamed.String())

	messages, err := h.svc.ListMessages(h.ctx, "alice", result.Thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, "how do storks deliver?", messages[0].Content)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, "the final answer", messages[1].Content)
}

func TestAskFirstQuestionSetsTruncatedTitle(t *testing.T) {
	h := setup(t)
	h.svc.TitleMaxLen = 20

	result, err := h.svc.Ask(h.ctx, "alice", nil, "first question", nil)
	require.NoError(t, err)

	thread, err := h.store.GetThread(h.ctx, "alice", result.Thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "Delivery Logistics O", thread.Title)

	// A second question leaves the title alone.
	_, err = h.svc.Ask(h.ctx, "alice", &result.Thread.ID, "second question", nil)
	require.NoError(t, err)
	thread, err = h.store.GetThread(h.ctx, "alice", result.Thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "Delivery Logistics O", thread.Title)
}

func TestAskAbortedStreamDoesNotPersistAssistant(t *testing.T) {
	h := setup(t)

	disconnected := errors.New("client disconnected")
	_, err := h.svc.Ask(h.ctx, "alice", nil, "how do storks deliver?", func(string) error {
		return disconnected
	})
	require.ErrorIs(t, err, disconnected)

	// The turn failed mid-stream: the user message stays, no assistant
	// message is written.
	threads, err := h.svc.ListThreads(h.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, threads, 1)

	messages, err := h.svc.ListMessages(h.ctx, "alice", threads[0].ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleUser, messages[0].Role)
}

func TestAskQueriesOnlyOwnNamespace(t *testing.T) {
	h := setup(t)

	t1, err := h.svc.CreateThread(h.ctx, "alice", "")
	require.NoError(t, err)
	t2, err := h.svc.CreateThread(h.ctx, "alice", "")
	require.NoError(t, err)
	upload(t, h, "alice", &t1.ID, "a.pdf", "alpha")
	upload(t, h, "alice", &t2.ID, "b.pdf", "beta")

	_, err = h.svc.Ask(h.ctx, "alice", &t1.ID, "question", nil)
	require.NoError(t, err)

	ns1, err := namespace.Derive(h.cfg.ResolvedVectorDir(), namespace.WithThread("alice", t1.ID))
	require.NoError(t, err)
	ns2, err := namespace.Derive(h.cfg.ResolvedVectorDir(), namespace.WithThread("alice", t2.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, h.provider.store(ns1.Dir, ns1.Collection).queries)
	assert.Equal(t, 0, h.provider.store(ns2.Dir, ns2.Collection).queries)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	h := setup(t)

	_, err := h.svc.Ask(h.ctx, "alice", nil, "   ", nil)
	var ve *registrystore.ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestAskOtherUsersThread(t *testing.T) {
	h := setup(t)

	thread, err := h.svc.CreateThread(h.ctx, "alice", "")
	require.NoError(t, err)

	_, err = h.svc.Ask(h.ctx, "bob", &thread.ID, "peek", nil)
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))
}

func TestDeleteThreadCascades(t *testing.T) {
	h := setup(t)

	thread, err := h.svc.CreateThread(h.ctx, "alice", "")
	require.NoError(t, err)
	upload(t, h, "alice", &thread.ID, "report.pdf", "one\ntwo")
	_, err = h.svc.Ask(h.ctx, "alice", &thread.ID, "question", nil)
	require.NoError(t, err)

	report, err := h.svc.DeleteThread(h.ctx, "alice", thread.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 2, report.Vectors)
	assert.EqualValues(t, 2, report.Deletion.Messages)
	assert.EqualValues(t, 2, report.Deletion.Segments)
	assert.EqualValues(t, 1, report.Deletion.Documents)

	// Metadata, namespace, and blobs are gone.
	_, err = h.store.GetThread(h.ctx, "alice", thread.ID)
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))

	ns, err := namespace.Derive(h.cfg.ResolvedVectorDir(), namespace.WithThread("alice", thread.ID))
	require.NoError(t, err)
	assert.Nil(t, h.provider.store(ns.Dir, ns.Collection))
	assert.Contains(t, h.provider.destroyed, ns.Dir)

	docs, err := h.svc.ListDocuments(h.ctx, registrystore.DocumentQuery{Username: "alice", ThreadID: &thread.ID})
	require.NoError(t, err)
	assert.Empty(t, docs)

	// Deleting again reports not found.
	_, err = h.svc.DeleteThread(h.ctx, "alice", thread.ID)
	require.True(t, errors.As(err, &nf))
}

func TestDeleteThreadLeavesOtherNamespaces(t *testing.T) {
	h := setup(t)

	t1, err := h.svc.CreateThread(h.ctx, "alice", "")
	require.NoError(t, err)
	t2, err := h.svc.CreateThread(h.ctx, "alice", "")
	require.NoError(t, err)
	upload(t, h, "alice", &t1.ID, "a.pdf", "alpha")
	upload(t, h, "alice", &t2.ID, "b.pdf", "beta")

	_, err = h.svc.DeleteThread(h.ctx, "alice", t1.ID)
	require.NoError(t, err)

	ns2, err := namespace.Derive(h.cfg.ResolvedVectorDir(), namespace.WithThread("alice", t2.ID))
	require.NoError(t, err)
	vs := h.provider.store(ns2.Dir, ns2.Collection)
	require.NotNil(t, vs)
	count, err := vs.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestDeleteDocumentKeepsNamespace(t *testing.T) {
	h := setup(t)

	thread, err := h.svc.CreateThread(h.ctx, "alice", "")
	require.NoError(t, err)
	keep := upload(t, h, "alice", &thread.ID, "keep.pdf", "kept passage")
	drop := upload(t, h, "alice", &thread.ID, "drop.pdf", "dropped one\ndropped two")

	report, err := h.svc.DeleteDocument(h.ctx, "alice", drop)
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 2, report.Vectors)

	_, err = h.store.GetDocument(h.ctx, "alice", drop)
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))

	// The surviving document's vectors are untouched.
	_, segments, err := h.svc.GetDocument(h.ctx, "alice", keep)
	require.NoError(t, err)
	require.Len(t, segments, 1)

	ns, err := namespace.Derive(h.cfg.ResolvedVectorDir(), namespace.WithThread("alice", thread.ID))
	require.NoError(t, err)
	vs := h.provider.store(ns.Dir, ns.Collection)
	require.NotNil(t, vs)
	count, err := vs.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.NotContains(t, h.provider.destroyed, ns.Dir)
}

func TestDeleteDocumentOwnership(t *testing.T) {
	h := setup(t)

	doc := upload(t, h, "alice", nil, "mine.pdf", "private passage")

	_, err := h.svc.DeleteDocument(h.ctx, "bob", doc)
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))

	// Alice still owns it.
	_, _, err = h.svc.GetDocument(h.ctx, "alice", doc)
	require.NoError(t, err)
}
