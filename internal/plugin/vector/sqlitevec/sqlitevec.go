// Package sqlitevec provides the default vector store plugin. Each
// namespace gets its own SQLite database file holding an entries table
// and a vec0 virtual table for KNN search via the sqlite-vec extension.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	registryvector "github.com/cola-ai/knowledge-service/internal/registry/vector"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	sqlite_vec.Auto()
	registryvector.Register(registryvector.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registryvector.Provider, error) {
			return &provider{}, nil
		},
	})
}

type provider struct{}

func (p *provider) Name() string { return "sqlite" }

func (p *provider) Open(ctx context.Context, dir, collection string) (registryvector.KnowledgeStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vector dir: %w", err)
	}
	path := filepath.Join(dir, collection+".db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database %s: %w", path, err)
	}
	s := &store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init vector schema: %w", err)
	}
	return s, nil
}

func (p *provider) Destroy(ctx context.Context, dir, collection string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove vector dir %s: %w", dir, err)
	}
	return nil
}

// store implements KnowledgeStore for a single namespace database.
// SQLite allows one writer at a time, so writes hold the mutex; dim is
// set lazily by the first Add and must only be read under it.
type store struct {
	db *sql.DB

	mu  sync.Mutex
	dim int
}

func (s *store) dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

func (s *store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			vector_id  TEXT UNIQUE NOT NULL,
			document   TEXT NOT NULL,
			metadata   TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return err
	}
	// The vec0 table needs the embedding dimension up front, so its
	// creation waits for the first Add. Recover the dimension of an
	// existing table from its DDL row in sqlite_master.
	var ddl string
	err = s.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'vec_entries'`).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if i := strings.Index(ddl, "float["); i >= 0 {
		if _, err := fmt.Sscanf(ddl[i:], "float[%d]", &s.dim); err != nil {
			return fmt.Errorf("failed to parse vec0 dimension from %q: %w", ddl, err)
		}
	}
	return nil
}

func (s *store) ensureVecTable(ctx context.Context, dim int) error {
	if s.dim != 0 {
		if s.dim != dim {
			return fmt.Errorf("embedding dimension mismatch: store has %d, got %d", s.dim, dim)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS vec_entries USING vec0(
			entry_id INTEGER PRIMARY KEY,
			embedding float[%d]
		);
	`, dim))
	if err != nil {
		return fmt.Errorf("failed to create vec0 table: %w", err)
	}
	s.dim = dim
	return nil
}

func (s *store) Add(ctx context.Context, entries []registryvector.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureVecTable(ctx, len(entries[0].Embedding)); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if len(entry.Embedding) != s.dim {
			return fmt.Errorf("embedding dimension mismatch: store has %d, got %d", s.dim, len(entry.Embedding))
		}
		meta, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", entry.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entries (vector_id, document, metadata) VALUES (?, ?, ?)
			ON CONFLICT(vector_id) DO UPDATE SET document = excluded.document, metadata = excluded.metadata
		`, entry.ID, entry.Document, string(meta))
		if err != nil {
			return fmt.Errorf("failed to upsert entry %s: %w", entry.ID, err)
		}
		var entryID int64
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM entries WHERE vector_id = ?`, entry.ID).Scan(&entryID); err != nil {
			return err
		}
		blob, err := sqlite_vec.SerializeFloat32(entry.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding for %s: %w", entry.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_entries WHERE entry_id = ?`, entryID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_entries (entry_id, embedding) VALUES (?, ?)`, entryID, blob); err != nil {
			return fmt.Errorf("failed to index embedding for %s: %w", entry.ID, err)
		}
	}
	return tx.Commit()
}

func (s *store) Query(ctx context.Context, embedding []float32, topK int) ([]registryvector.Result, error) {
	dim := s.dimension()
	if dim == 0 {
		// Nothing was ever added.
		return nil, nil
	}
	if len(embedding) != dim {
		return nil, fmt.Errorf("embedding dimension mismatch: store has %d, got %d", dim, len(embedding))
	}
	if topK <= 0 {
		return nil, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.vector_id, e.document, e.metadata, v.distance
		FROM vec_entries v
		JOIN entries e ON e.id = v.entry_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, blob, topK)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	defer rows.Close()

	var results []registryvector.Result
	for rows.Next() {
		var r registryvector.Result
		var meta string
		if err := rows.Scan(&r.ID, &r.Document, &meta, &r.Distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		var entryID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM entries WHERE vector_id = ?`, id).Scan(&entryID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		if s.dim != 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_entries WHERE entry_id = ?`, entryID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, entryID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&count)
	return count, err
}

func (s *store) Close() error {
	return s.db.Close()
}
