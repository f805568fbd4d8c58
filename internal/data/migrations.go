package data

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/target/mmk-jobqueue/internal/migrate"
)

// RunMigrations creates the job_record schema for the dialect by delegating to the migrate package.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, tablePrefix string, logger *slog.Logger) error {
	return migrate.Run(ctx, db, migrate.Options{
		Dialect:     dialect.Name,
		TablePrefix: tablePrefix,
		Logger:      logger,
	})
}
