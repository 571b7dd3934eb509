package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cola-ai/knowledge-service/internal/config"
	"github.com/cola-ai/knowledge-service/internal/model"
	"github.com/cola-ai/knowledge-service/internal/plugin/store/sqlite"
	registrymigrate "github.com/cola-ai/knowledge-service/internal/registry/migrate"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
)

func setupTestStore(t *testing.T) (registrystore.MetadataStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DatastoreType = "sqlite"
	ctx := config.WithContext(context.Background(), &cfg)

	_ = sqlite.ForceImport

	err := registrymigrate.RunAll(ctx)
	require.NoError(t, err)

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, ctx
}

func TestMigrateWithoutConfigIsNoOp(t *testing.T) {
	_ = sqlite.ForceImport
	// No config in the context: the migrator skips instead of panicking.
	require.NoError(t, registrymigrate.RunAll(context.Background()))
}

func TestCreateAndGetThread(t *testing.T) {
	store, ctx := setupTestStore(t)

	_, err := store.EnsureUser(ctx, "alice")
	require.NoError(t, err)

	thread, err := store.CreateThread(ctx, "alice", "Trip planning")
	require.NoError(t, err)
	assert.NotZero(t, thread.ID)

	got, err := store.GetThread(ctx, "alice", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", got.Title)

	// Another user cannot see it.
	_, err = store.GetThread(ctx, "bob", thread.ID)
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))
}

func TestMessagesOrderedByCreation(t *testing.T) {
	store, ctx := setupTestStore(t)

	thread, err := store.CreateThread(ctx, "alice", "t")
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three"} {
		_, err = store.AppendMessage(ctx, &model.Message{
			ThreadID: thread.ID,
			Username: "alice",
			Role:     model.RoleUser,
			Content:  content,
		})
		require.NoError(t, err)
	}

	messages, err := store.ListMessages(ctx, "alice", thread.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "one", messages[0].Content)
	assert.Equal(t, "three", messages[2].Content)
}

func TestAppendMessageRejectsUnknownRole(t *testing.T) {
	store, ctx := setupTestStore(t)

	thread, err := store.CreateThread(ctx, "alice", "t")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, &model.Message{
		ThreadID: thread.ID,
		Username: "alice",
		Role:     "system",
		Content:  "nope",
	})
	var ve *registrystore.ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestDocumentWithSegments(t *testing.T) {
	store, ctx := setupTestStore(t)

	thread, err := store.CreateThread(ctx, "alice", "t")
	require.NoError(t, err)

	doc, err := store.CreateDocument(ctx, &model.Document{
		Username:         "alice",
		Filename:         "notes.pdf",
		OriginalFilename: "My Notes.pdf",
		ThreadID:         &thread.ID,
	}, []model.DocumentSegment{
		{SegmentIndex: 1, VectorID: "alice__thread_1__notes_seg_0001", Preview: "first"},
		{SegmentIndex: 2, VectorID: "alice__thread_1__notes_seg_0002", Preview: "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, doc.SegmentCount)

	segments, err := store.ListSegments(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, 1, segments[0].SegmentIndex)

	ids, err := store.VectorIDsForDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"alice__thread_1__notes_seg_0001",
		"alice__thread_1__notes_seg_0002",
	}, ids)
}

func TestListDocumentsScoping(t *testing.T) {
	store, ctx := setupTestStore(t)

	thread, err := store.CreateThread(ctx, "alice", "t")
	require.NoError(t, err)

	_, err = store.CreateDocument(ctx, &model.Document{
		Username: "alice", Filename: "a.pdf", OriginalFilename: "a.pdf", ThreadID: &thread.ID,
	}, nil)
	require.NoError(t, err)
	_, err = store.CreateDocument(ctx, &model.Document{
		Username: "alice", Filename: "b.pdf", OriginalFilename: "b.pdf",
	}, nil)
	require.NoError(t, err)

	all, err := store.ListDocuments(ctx, registrystore.DocumentQuery{Username: "alice"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := store.ListDocuments(ctx, registrystore.DocumentQuery{Username: "alice", ThreadID: &thread.ID})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "a.pdf", scoped[0].Filename)

	userOnly, err := store.ListDocuments(ctx, registrystore.DocumentQuery{Username: "alice", OnlyUserScoped: true})
	require.NoError(t, err)
	require.Len(t, userOnly, 1)
	assert.Equal(t, "b.pdf", userOnly[0].Filename)
}

func TestDeleteThreadCascade(t *testing.T) {
	store, ctx := setupTestStore(t)

	thread, err := store.CreateThread(ctx, "alice", "t")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, &model.Message{
		ThreadID: thread.ID, Username: "alice", Role: model.RoleUser, Content: "hi",
	})
	require.NoError(t, err)

	doc, err := store.CreateDocument(ctx, &model.Document{
		Username: "alice", Filename: "a.pdf", OriginalFilename: "a.pdf", ThreadID: &thread.ID,
	}, []model.DocumentSegment{{SegmentIndex: 0, VectorID: "v0", Preview: "p"}})
	require.NoError(t, err)

	deletion, err := store.DeleteThreadCascade(ctx, "alice", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deletion.Messages)
	assert.Equal(t, int64(1), deletion.Segments)
	assert.Equal(t, int64(1), deletion.Documents)

	var nf *registrystore.NotFoundError
	_, err = store.GetThread(ctx, "alice", thread.ID)
	require.True(t, errors.As(err, &nf))
	_, err = store.GetDocument(ctx, "alice", doc.ID)
	require.True(t, errors.As(err, &nf))

	// Deleting again reports not found.
	_, err = store.DeleteThreadCascade(ctx, "alice", thread.ID)
	require.True(t, errors.As(err, &nf))
}

func TestDeleteDocumentCascade(t *testing.T) {
	store, ctx := setupTestStore(t)

	doc, err := store.CreateDocument(ctx, &model.Document{
		Username: "alice", Filename: "a.pdf", OriginalFilename: "a.pdf",
	}, []model.DocumentSegment{{SegmentIndex: 0, VectorID: "v0", Preview: "p"}})
	require.NoError(t, err)

	require.NoError(t, store.DeleteDocumentCascade(ctx, "alice", doc.ID))

	segments, err := store.ListSegments(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, segments)

	var nf *registrystore.NotFoundError
	err = store.DeleteDocumentCascade(ctx, "alice", doc.ID)
	require.True(t, errors.As(err, &nf))
}
