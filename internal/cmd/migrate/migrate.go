package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/cola-ai/knowledge-service/internal/config"
	registrymigrate "github.com/cola-ai/knowledge-service/internal/registry/migrate"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/cola-ai/knowledge-service/internal/plugin/store/postgres"
	_ "github.com/cola-ai/knowledge-service/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("KNOWLEDGE_SERVICE_DB_KIND"),
				Usage:   "Metadata store backend (sqlite|postgres)",
				Value:   "sqlite",
			},
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("KNOWLEDGE_SERVICE_DB_URL"),
				Usage:   "Database connection URL (postgres backend)",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Sources: cli.EnvVars("KNOWLEDGE_SERVICE_DATA_DIR"),
				Usage:   "Root directory for on-disk state (sqlite backend)",
				Value:   "data",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.DBURL = cmd.String("db-url")
			cfg.DataDir = cmd.String("data-dir")
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
