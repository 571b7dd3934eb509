package blob

import (
	"context"
	"fmt"
	"io"
	"path"
)

// StoreResult is the result of a blob store operation.
type StoreResult struct {
	Key    string
	Size   int64
	SHA256 string
}

// BlobStore defines the interface for raw document storage backends.
// Keys are slash-separated paths produced by Key, ThreadPrefix, and
// UserPrefix so that an entire thread's or user's uploads can be
// removed with a single prefix delete.
type BlobStore interface {
	// Store writes blob data under key and returns size and SHA256.
	Store(ctx context.Context, key string, data io.Reader, maxSize int64) (*StoreResult, error)
	// Retrieve returns a reader for the stored blob.
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes a single blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every blob under the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Key returns the storage key for a document upload.
func Key(username string, threadID *int64, filename string) string {
	return path.Join(ThreadPrefix(username, threadID), filename)
}

// ThreadPrefix returns the storage prefix holding a thread's uploads.
// Documents attached directly to the user live under "no_thread".
func ThreadPrefix(username string, threadID *int64) string {
	if threadID == nil {
		return path.Join(username, "no_thread")
	}
	return path.Join(username, fmt.Sprintf("thread_%d", *threadID))
}

// UserPrefix returns the storage prefix holding all of a user's uploads.
func UserPrefix(username string) string {
	return username
}

// Loader creates a BlobStore from config.
type Loader func(ctx context.Context) (BlobStore, error)

// Plugin represents a blob store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a blob store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered blob store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named blob store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown blob store %q; valid: %v", name, Names())
}
