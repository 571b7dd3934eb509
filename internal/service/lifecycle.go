package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/cola-ai/knowledge-service/internal/namespace"
	registryblob "github.com/cola-ai/knowledge-service/internal/registry/blob"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
	"github.com/cola-ai/knowledge-service/internal/security"
)

// DeleteReport summarizes a cascade delete. Failures lists the best
// effort cleanup steps that did not complete; the caller can surface
// them without the delete itself having failed.
type DeleteReport struct {
	Deletion *registrystore.ThreadDeletion `json:"deletion,omitempty"`
	Vectors  int                           `json:"vectors"`
	Failures []string                      `json:"failures,omitempty"`
}

// DeleteThread removes a thread and everything hanging off it: the
// indexed vectors and the namespace's store directory, the raw uploads
// under the thread's blob prefix, and finally the metadata rows in one
// transaction. The vector and blob steps are best effort and recorded
// in the report; the metadata transaction is the hard gate and its
// failure fails the delete.
func (s *Service) DeleteThread(ctx context.Context, username string, threadID int64) (*DeleteReport, error) {
	if _, err := s.Store.GetThread(ctx, username, threadID); err != nil {
		s.countDelete("thread", "not_found")
		return nil, err
	}

	report := &DeleteReport{}
	key := namespace.WithThread(username, threadID)

	docs, err := s.Store.ListDocuments(ctx, registrystore.DocumentQuery{Username: username, ThreadID: &threadID})
	if err != nil {
		s.countDelete("thread", "error")
		return nil, err
	}

	var vectorIDs []string
	for _, doc := range docs {
		ids, err := s.Store.VectorIDsForDocument(ctx, doc.ID)
		if err != nil {
			s.countDelete("thread", "error")
			return nil, err
		}
		vectorIDs = append(vectorIDs, ids...)
	}
	report.Vectors = len(vectorIDs)

	if len(vectorIDs) > 0 {
		store, _, err := s.Namespaces.Resolve(ctx, key)
		if err != nil {
			report.fail("resolve knowledge store", err)
		} else if err := store.Delete(ctx, vectorIDs); err != nil {
			report.fail("delete vectors", err)
		}
	}

	// Destroying the namespace removes the store's on-disk state
	// whether or not the id-level delete above worked, so a failure
	// there never leaves vectors behind.
	if err := s.Namespaces.Destroy(ctx, key); err != nil {
		report.fail("destroy knowledge store", err)
	}

	if err := s.Blobs.DeletePrefix(ctx, registryblob.ThreadPrefix(username, &threadID)); err != nil {
		report.fail("delete raw documents", err)
	}

	deletion, err := s.Store.DeleteThreadCascade(ctx, username, threadID)
	if err != nil {
		s.countDelete("thread", "error")
		return nil, fmt.Errorf("failed to delete thread metadata: %w", err)
	}
	report.Deletion = deletion

	s.countDelete("thread", outcome(report))
	log.Info("Thread deleted", "username", username, "thread", threadID,
		"messages", deletion.Messages, "documents", deletion.Documents, "vectors", report.Vectors)
	return report, nil
}

// DeleteDocument removes one document: its vectors from the namespace
// store, its raw blob, and its metadata rows. The namespace directory
// itself stays; other documents may share it.
func (s *Service) DeleteDocument(ctx context.Context, username string, documentID int64) (*DeleteReport, error) {
	doc, err := s.Store.GetDocument(ctx, username, documentID)
	if err != nil {
		s.countDelete("document", "not_found")
		return nil, err
	}

	report := &DeleteReport{}
	vectorIDs, err := s.Store.VectorIDsForDocument(ctx, documentID)
	if err != nil {
		s.countDelete("document", "error")
		return nil, err
	}
	report.Vectors = len(vectorIDs)

	if len(vectorIDs) > 0 {
		key := namespace.Key{Username: username, ThreadID: doc.ThreadID}
		store, _, err := s.Namespaces.Resolve(ctx, key)
		if err != nil {
			report.fail("resolve knowledge store", err)
		} else if err := store.Delete(ctx, vectorIDs); err != nil {
			report.fail("delete vectors", err)
		}
	}

	if err := s.Blobs.Delete(ctx, registryblob.Key(username, doc.ThreadID, doc.Filename)); err != nil {
		report.fail("delete raw document", err)
	}

	if err := s.Store.DeleteDocumentCascade(ctx, username, documentID); err != nil {
		s.countDelete("document", "error")
		return nil, fmt.Errorf("failed to delete document metadata: %w", err)
	}

	s.countDelete("document", outcome(report))
	log.Info("Document deleted", "username", username, "document", documentID, "vectors", report.Vectors)
	return report, nil
}

func (r *DeleteReport) fail(step string, err error) {
	log.Warn("Cascade delete step failed", "step", step, "err", err)
	r.Failures = append(r.Failures, fmt.Sprintf("%s: %v", step, err))
}

func outcome(r *DeleteReport) string {
	if len(r.Failures) > 0 {
		return "partial"
	}
	return "ok"
}

func (s *Service) countDelete(resource, outcome string) {
	if security.LifecycleDeletesTotal != nil {
		security.LifecycleDeletesTotal.WithLabelValues(resource, outcome).Inc()
	}
}
