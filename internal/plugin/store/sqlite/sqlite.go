// Package sqlite provides the sqlite-backed metadata store plugin. It is
// the default store; the database file lives under the service data dir.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cola-ai/knowledge-service/internal/config"
	"github.com/cola-ai/knowledge-service/internal/plugin/store/gormstore"
	registrymigrate "github.com/cola-ai/knowledge-service/internal/registry/migrate"
	registrystore "github.com/cola-ai/knowledge-service/internal/registry/store"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.MetadataStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil {
				return nil, fmt.Errorf("sqlite store: no configuration in context")
			}
			db, err := open(cfg)
			if err != nil {
				return nil, err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			// The driver serializes writes anyway; a small pool keeps
			// readers from queueing behind it.
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			return gormstore.New(db), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

func open(cfg *config.Config) (*gorm.DB, error) {
	path := cfg.ResolvedSQLitePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path+"?_fk=1&_journal_mode=WAL"), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	return db, nil
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }

func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil
	}
	if !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := open(cfg)
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.WithContext(ctx).AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("migration: failed to migrate schema: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}
