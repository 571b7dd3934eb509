// Package fs provides the filesystem blob store plugin, the default
// backend for raw uploaded documents.
package fs

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cola-ai/knowledge-service/internal/config"
	registryblob "github.com/cola-ai/knowledge-service/internal/registry/blob"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registryblob.Register(registryblob.Plugin{
		Name: "fs",
		Loader: func(ctx context.Context) (registryblob.BlobStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil {
				return nil, fmt.Errorf("fs blob store: missing config in context")
			}
			return &FSBlobStore{root: cfg.ResolvedBlobDir()}, nil
		},
	})
}

type FSBlobStore struct {
	root string
}

func (s *FSBlobStore) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FSBlobStore) Store(ctx context.Context, key string, data io.Reader, maxSize int64) (*registryblob.StoreResult, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob %s: %w", key, err)
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), io.LimitReader(data, maxSize+1))
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if n > maxSize {
		os.Remove(path)
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", maxSize)
	}
	return &registryblob.StoreResult{
		Key:    key,
		Size:   n,
		SHA256: fmt.Sprintf("%x", hasher.Sum(nil)),
	}, nil
}

func (s *FSBlobStore) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", key, err)
	}
	return f, nil
}

func (s *FSBlobStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

func (s *FSBlobStore) DeletePrefix(ctx context.Context, prefix string) error {
	path, err := s.path(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete blob prefix %s: %w", prefix, err)
	}
	return nil
}

var _ registryblob.BlobStore = (*FSBlobStore)(nil)
