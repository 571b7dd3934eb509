package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/cola-ai/knowledge-service/internal/model"
	"github.com/cola-ai/knowledge-service/internal/namespace"
	registryblob "github.com/cola-ai/knowledge-service/internal/registry/blob"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
	registryvector "github.com/cola-ai/knowledge-service/internal/registry/vector"
	"github.com/cola-ai/knowledge-service/internal/security"
	"github.com/cola-ai/knowledge-service/internal/tempfiles"
)

// UploadDocument ingests one uploaded file into the caller's namespace:
// the raw bytes go to blob storage, the extracted text is segmented,
// embedded, and indexed in the namespace's knowledge store, and a
// document row with one segment row per vector records the mapping.
// Segment rows and vector entries are created one to one; a metadata
// failure rolls the freshly added vectors back out.
func (s *Service) UploadDocument(ctx context.Context, username string, threadID *int64, originalFilename string, data io.Reader) (*model.Document, error) {
	if !s.Segmenter.Supports(originalFilename) {
		return nil, &registrystore.ValidationError{Field: "file", Message: fmt.Sprintf("unsupported file type %q; only pdf and docx are accepted", path.Ext(originalFilename))}
	}
	if _, err := s.Store.EnsureUser(ctx, username); err != nil {
		return nil, err
	}
	if threadID != nil {
		if _, err := s.Store.GetThread(ctx, username, *threadID); err != nil {
			return nil, err
		}
	}

	// Spool to disk so the blob write and text extraction can each read
	// the full payload without holding it in memory.
	spooled, err := tempfiles.Spool(s.TempDir, "upload-*", data, s.UploadMaxSize)
	if err != nil {
		return nil, err
	}
	defer spooled.Close()

	storedFilename := storedName(originalFilename)
	blobKey := registryblob.Key(username, threadID, storedFilename)
	if _, err := s.Blobs.Store(ctx, blobKey, spooled.File, s.UploadMaxSize); err != nil {
		return nil, fmt.Errorf("failed to store raw document: %w", err)
	}

	if _, err := spooled.File.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	segments, err := s.Segmenter.Segment(ctx, originalFilename, spooled.File)
	if err != nil {
		// The blob was already written; remove it so a rejected upload
		// leaves nothing behind.
		if delErr := s.Blobs.Delete(ctx, blobKey); delErr != nil {
			log.Warn("Failed to remove blob for rejected upload", "key", blobKey, "err", delErr)
		}
		return nil, err
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	embeddings, err := s.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed segments: %w", err)
	}
	if len(embeddings) != len(segments) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d segments", len(embeddings), len(segments))
	}

	key := namespace.Key{Username: username, ThreadID: threadID}
	store, _, err := s.Namespaces.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(storedFilename, path.Ext(storedFilename))
	entries := make([]registryvector.Entry, len(segments))
	segmentRows := make([]model.DocumentSegment, len(segments))
	for i, seg := range segments {
		vectorID := vectorID(username, threadID, stem, seg.Index)
		entries[i] = registryvector.Entry{
			ID:        vectorID,
			Embedding: embeddings[i],
			Document:  seg.Text,
			Metadata: registryvector.Metadata{
				Username:     username,
				SourceFile:   originalFilename,
				ThreadID:     threadID,
				SegmentIndex: seg.Index,
			},
		}
		segmentRows[i] = model.DocumentSegment{
			SegmentIndex: seg.Index,
			VectorID:     vectorID,
			Preview:      preview(seg.Text),
		}
	}
	if err := store.Add(ctx, entries); err != nil {
		return nil, fmt.Errorf("failed to index segments: %w", err)
	}

	doc := &model.Document{
		Username:         username,
		Filename:         storedFilename,
		OriginalFilename: originalFilename,
		StoredAt:         time.Now(),
		ThreadID:         threadID,
	}
	doc, err = s.Store.CreateDocument(ctx, doc, segmentRows)
	if err != nil {
		// Keep the one-to-one mapping between segment rows and vectors:
		// without the rows the vectors are unreachable, so take them
		// back out.
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if delErr := store.Delete(ctx, ids); delErr != nil {
			log.Error("Failed to roll back vectors after metadata failure", "document", originalFilename, "err", delErr)
		}
		return nil, err
	}

	if security.DocumentsIngestedTotal != nil {
		security.DocumentsIngestedTotal.Inc()
		security.SegmentsIndexedTotal.Add(float64(len(segments)))
	}
	log.Info("Document ingested", "username", username, "file", originalFilename, "segments", len(segments))
	return doc, nil
}

// storedName makes the stored filename unique while keeping the stem
// and extension recognizable.
func storedName(originalFilename string) string {
	ext := path.Ext(originalFilename)
	stem := strings.TrimSuffix(path.Base(originalFilename), ext)
	return fmt.Sprintf("%s_%s%s", stem, uuid.NewString()[:8], ext)
}

// vectorID builds the namespaced id under which a segment is indexed.
func vectorID(username string, threadID *int64, stem string, index int) string {
	if threadID == nil {
		return fmt.Sprintf("%s__%s_seg_%04d", username, stem, index)
	}
	return fmt.Sprintf("%s__thread_%d__%s_seg_%04d", username, *threadID, stem, index)
}

// preview truncates segment text for the metadata row.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= model.PreviewLen {
		return text
	}
	return string(runes[:model.PreviewLen])
}
