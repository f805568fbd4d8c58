// Package pgxutil holds transaction helpers for database/sql handles opened through the pgx stdlib
// bridge or any other registered driver.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLTxConfig groups parameters for WithSQLTx to keep parameter count  3.
type SQLTxConfig struct {
	Opts *sql.TxOptions
	Fn   func(*sql.Tx) error
	// Retries is how many extra times Fn is run in a fresh transaction when IsRetryable accepts its error.
	Retries int
	// IsRetryable classifies errors such as deadlocks or serialization failures. Nil disables retries.
	IsRetryable func(error) bool
}

// WithSQLTx runs the given function within a database/sql transaction, committing on success.
func WithSQLTx(ctx context.Context, db *sql.DB, cfg SQLTxConfig) error {
	var err error
	for attempt := 0; attempt <= max(cfg.Retries, 0); attempt++ {
		err = runSQLTx(ctx, db, cfg)
		if err == nil || cfg.IsRetryable == nil || !cfg.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func runSQLTx(ctx context.Context, db *sql.DB, cfg SQLTxConfig) (err error) {
	tx, err := db.BeginTx(ctx, cfg.Opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = cfg.Fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
