// Package gormstore implements the relational metadata store on top of
// GORM. The sqlite and postgres plugins both build on it; only the
// dialector and connection setup differ.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/cola-ai/knowledge-service/internal/model"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
)

// Store implements registrystore.MetadataStore using GORM.
type Store struct {
	db *gorm.DB
}

// New wraps an open GORM handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Models lists every persisted model in dependency order, for AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.Thread{},
		&model.Message{},
		&model.Document{},
		&model.DocumentSegment{},
	}
}

func notFound(resource string, id int64) error {
	return &registrystore.NotFoundError{Resource: resource, ID: strconv.FormatInt(id, 10)}
}

// --- Users ---

func (s *Store) EnsureUser(ctx context.Context, username string) (*model.User, error) {
	if username == "" {
		return nil, &registrystore.ValidationError{Field: "username", Message: "must not be empty"}
	}
	var user model.User
	err := s.db.WithContext(ctx).
		Where(model.User{Username: username}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user %q: %w", username, err)
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: username}
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// --- Threads ---

func (s *Store) CreateThread(ctx context.Context, username string, title string) (*model.Thread, error) {
	if username == "" {
		return nil, &registrystore.ValidationError{Field: "username", Message: "must not be empty"}
	}
	thread := model.Thread{Username: username, Title: title}
	if err := s.db.WithContext(ctx).Create(&thread).Error; err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return &thread, nil
}

func (s *Store) ListThreads(ctx context.Context, username string) ([]model.Thread, error) {
	var threads []model.Thread
	err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at DESC, id DESC").
		Find(&threads).Error
	if err != nil {
		return nil, err
	}
	return threads, nil
}

func (s *Store) GetThread(ctx context.Context, username string, threadID int64) (*model.Thread, error) {
	var thread model.Thread
	err := s.db.WithContext(ctx).
		Where("id = ? AND username = ?", threadID, username).
		First(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("thread", threadID)
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (s *Store) UpdateThreadTitle(ctx context.Context, username string, threadID int64, title string) error {
	res := s.db.WithContext(ctx).
		Model(&model.Thread{}).
		Where("id = ? AND username = ?", threadID, username).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("thread", threadID)
	}
	return nil
}

// --- Messages ---

func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg.Role != model.RoleUser && msg.Role != model.RoleAssistant {
		return nil, &registrystore.ValidationError{Field: "role", Message: fmt.Sprintf("invalid role %q", msg.Role)}
	}
	if _, err := s.GetThread(ctx, msg.Username, msg.ThreadID); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, username string, threadID int64) ([]model.Message, error) {
	if _, err := s.GetThread(ctx, username, threadID); err != nil {
		return nil, err
	}
	var messages []model.Message
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// --- Documents ---

func (s *Store) CreateDocument(ctx context.Context, doc *model.Document, segments []model.DocumentSegment) (*model.Document, error) {
	if doc.Username == "" {
		return nil, &registrystore.ValidationError{Field: "username", Message: "must not be empty"}
	}
	doc.SegmentCount = len(segments)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if doc.ThreadID != nil {
			var thread model.Thread
			err := tx.Where("id = ? AND username = ?", *doc.ThreadID, doc.Username).First(&thread).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("thread", *doc.ThreadID)
			}
			if err != nil {
				return err
			}
		}
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		for i := range segments {
			segments[i].DocumentID = doc.ID
		}
		if len(segments) > 0 {
			if err := tx.Create(&segments).Error; err != nil {
				return fmt.Errorf("failed to create segments: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, query registrystore.DocumentQuery) ([]model.Document, error) {
	q := s.db.WithContext(ctx).Where("username = ?", query.Username)
	switch {
	case query.ThreadID != nil:
		q = q.Where("thread_id = ?", *query.ThreadID)
	case query.OnlyUserScoped:
		q = q.Where("thread_id IS NULL")
	}
	var docs []model.Document
	if err := q.Order("stored_at DESC, id DESC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) GetDocument(ctx context.Context, username string, documentID int64) (*model.Document, error) {
	var doc model.Document
	err := s.db.WithContext(ctx).
		Where("id = ? AND username = ?", documentID, username).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("document", documentID)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) ListSegments(ctx context.Context, documentID int64) ([]model.DocumentSegment, error) {
	var segments []model.DocumentSegment
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("segment_index ASC").
		Find(&segments).Error
	if err != nil {
		return nil, err
	}
	return segments, nil
}

func (s *Store) VectorIDsForDocument(ctx context.Context, documentID int64) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.DocumentSegment{}).
		Where("document_id = ?", documentID).
		Order("segment_index ASC").
		Pluck("vector_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// --- Cascades ---

func (s *Store) DeleteThreadCascade(ctx context.Context, username string, threadID int64) (*registrystore.ThreadDeletion, error) {
	var deletion registrystore.ThreadDeletion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var thread model.Thread
		err := tx.Where("id = ? AND username = ?", threadID, username).First(&thread).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("thread", threadID)
		}
		if err != nil {
			return err
		}

		res := tx.Where("thread_id = ?", threadID).Delete(&model.Message{})
		if res.Error != nil {
			return res.Error
		}
		deletion.Messages = res.RowsAffected

		docIDs := tx.Model(&model.Document{}).
			Select("id").
			Where("thread_id = ? AND username = ?", threadID, username)
		res = tx.Where("document_id IN (?)", docIDs).Delete(&model.DocumentSegment{})
		if res.Error != nil {
			return res.Error
		}
		deletion.Segments = res.RowsAffected

		res = tx.Where("thread_id = ? AND username = ?", threadID, username).Delete(&model.Document{})
		if res.Error != nil {
			return res.Error
		}
		deletion.Documents = res.RowsAffected

		return tx.Delete(&model.Thread{}, threadID).Error
	})
	if err != nil {
		return nil, err
	}
	return &deletion, nil
}

func (s *Store) DeleteDocumentCascade(ctx context.Context, username string, documentID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc model.Document
		err := tx.Where("id = ? AND username = ?", documentID, username).First(&doc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("document", documentID)
		}
		if err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&model.DocumentSegment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Document{}, documentID).Error
	})
}

// --- Lifecycle ---

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
