package service

import (
	"context"

	"github.com/cola-ai/knowledge-service/internal/model"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
)

// CreateThread starts an empty conversation thread for the user.
func (s *Service) CreateThread(ctx context.Context, username, title string) (*model.Thread, error) {
	if _, err := s.Store.EnsureUser(ctx, username); err != nil {
		return nil, err
	}
	return s.Store.CreateThread(ctx, username, title)
}

// ListThreads returns the user's threads, newest first.
func (s *Service) ListThreads(ctx context.Context, username string) ([]model.Thread, error) {
	return s.Store.ListThreads(ctx, username)
}

// ListMessages returns a thread's messages in order of creation.
func (s *Service) ListMessages(ctx context.Context, username string, threadID int64) ([]model.Message, error) {
	return s.Store.ListMessages(ctx, username, threadID)
}

// ListDocuments returns the user's documents, optionally filtered to a
// thread or to user-scoped uploads only.
func (s *Service) ListDocuments(ctx context.Context, query registrystore.DocumentQuery) ([]model.Document, error) {
	return s.Store.ListDocuments(ctx, query)
}

// GetDocument returns one of the user's documents with its segments.
func (s *Service) GetDocument(ctx context.Context, username string, documentID int64) (*model.Document, []model.DocumentSegment, error) {
	doc, err := s.Store.GetDocument(ctx, username, documentID)
	if err != nil {
		return nil, nil, err
	}
	segments, err := s.Store.ListSegments(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	return doc, segments, nil
}
