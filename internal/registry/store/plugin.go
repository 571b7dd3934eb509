package store

import (
	"context"
	"fmt"

	"github.com/cola-ai/knowledge-service/internal/model"
)

// DocumentQuery filters document listings.
type DocumentQuery struct {
	Username string
	// ThreadID of nil lists every document the user owns; a non-nil
	// value restricts the listing to that thread's uploads.
	ThreadID *int64
	OnlyUserScoped bool
}

// ThreadDeletion is the set of rows removed by a thread cascade.
type ThreadDeletion struct {
	Messages  int64
	Segments  int64
	Documents int64
}

// MetadataStore defines the relational data access interface for the
// knowledge service. All lookups are scoped by username; a row owned by
// a different user is reported as not found rather than forbidden.
type MetadataStore interface {
	// Users
	EnsureUser(ctx context.Context, username string) (*model.User, error)
	GetUser(ctx context.Context, username string) (*model.User, error)

	// Threads
	CreateThread(ctx context.Context, username string, title string) (*model.Thread, error)
	ListThreads(ctx context.Context, username string) ([]model.Thread, error)
	GetThread(ctx context.Context, username string, threadID int64) (*model.Thread, error)
	UpdateThreadTitle(ctx context.Context, username string, threadID int64, title string) error

	// Messages
	AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	ListMessages(ctx context.Context, username string, threadID int64) ([]model.Message, error)

	// Documents
	CreateDocument(ctx context.Context, doc *model.Document, segments []model.DocumentSegment) (*model.Document, error)
	ListDocuments(ctx context.Context, query DocumentQuery) ([]model.Document, error)
	GetDocument(ctx context.Context, username string, documentID int64) (*model.Document, error)
	ListSegments(ctx context.Context, documentID int64) ([]model.DocumentSegment, error)
	VectorIDsForDocument(ctx context.Context, documentID int64) ([]string, error)

	// Cascades. Both run in a single transaction and remove the
	// relational rows only; vector and blob cleanup happens before
	// the caller reaches these.
	DeleteThreadCascade(ctx context.Context, username string, threadID int64) (*ThreadDeletion, error)
	DeleteDocumentCascade(ctx context.Context, username string, documentID int64) error

	Ping(ctx context.Context) error
	Close() error
}

// Loader creates a MetadataStore from config.
type Loader func(ctx context.Context) (MetadataStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
