package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE items (name TEXT NOT NULL)`)
	require.NoError(t, err)
	return db
}

func countItems(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func TestWithSQLTx_CommitAndRollback(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	err := WithSQLTx(ctx, db, SQLTxConfig{Fn: func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('kept')`)
		return execErr
	}})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithSQLTx(ctx, db, SQLTxConfig{Fn: func(tx *sql.Tx) error {
		if _, execErr := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('dropped')`); execErr != nil {
			return execErr
		}
		return boom
	}})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, countItems(t, db))
}

func TestWithSQLTx_Retries(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	transient := errors.New("deadlock")

	calls := 0
	err := WithSQLTx(ctx, db, SQLTxConfig{
		Retries:     2,
		IsRetryable: func(err error) bool { return errors.Is(err, transient) },
		Fn: func(*sql.Tx) error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = WithSQLTx(ctx, db, SQLTxConfig{
		Retries:     5,
		IsRetryable: func(err error) bool { return errors.Is(err, transient) },
		Fn: func(*sql.Tx) error {
			calls++
			return errors.New("permanent")
		},
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors are returned immediately")
}
