// Package migrate applies the embedded job queue schema for each supported SQL dialect.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// Supported dialect names. They match the migrations subdirectories.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

const prefixToken = "{{prefix}}"

var validPrefix = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// Options selects the schema flavour and table prefix.
type Options struct {
	Dialect     string // Required
	TablePrefix string // Optional; prepended to every table and index name
	Logger      *slog.Logger
}

// Run applies all SQL migrations for the dialect. It is safe to call multiple times.
func Run(ctx context.Context, db *sql.DB, opts Options) error {
	if db == nil {
		return errors.New("migrate: db is required")
	}
	if !validPrefix.MatchString(opts.TablePrefix) {
		return fmt.Errorf("migrate: invalid table prefix %q", opts.TablePrefix)
	}
	files, err := List(opts.Dialect)
	if err != nil {
		return err
	}

	m := &migrator{db: db, opts: opts, logger: opts.Logger}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "migrations", "dialect", opts.Dialect)

	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}
	for _, f := range files {
		info := migrationInfo{
			versionStr: strings.TrimSuffix(f, ".sql"),
			file:       f,
		}
		if applyErr := m.apply(ctx, info); applyErr != nil {
			return applyErr
		}
	}
	return nil
}

// List returns the migration file names for a dialect in apply order.
func List(dialect string) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("unsupported migration dialect %q: %w", dialect, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// migrationInfo holds information about a migration for processing.
type migrationInfo struct {
	versionStr string
	file       string
}

type migrator struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger
}

func (m *migrator) versionTable() string {
	return m.opts.TablePrefix + "schema_migrations"
}

func (m *migrator) placeholder() string {
	if m.opts.Dialect == DialectPostgres {
		return "$1"
	}
	return "?"
}

func (m *migrator) ensureVersionTable(ctx context.Context) error {
	appliedType := "TIMESTAMPTZ NOT NULL DEFAULT now()"
	versionType := "TEXT"
	switch m.opts.Dialect {
	case DialectMySQL:
		appliedType = "DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)"
		versionType = "VARCHAR(255)"
	case DialectSQLite:
		appliedType = "TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP"
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version %s PRIMARY KEY,
		applied_at %s
	)`, m.versionTable(), versionType, appliedType)
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create %s table: %w", m.versionTable(), err)
	}
	return nil
}

func (m *migrator) exists(ctx context.Context, info migrationInfo) (bool, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE version = %s`, m.versionTable(), m.placeholder())
	if err := m.db.QueryRowContext(ctx, query, info.versionStr).Scan(&n); err != nil {
		return false, fmt.Errorf("check migration %s: %w", info.file, err)
	}
	return n > 0, nil
}

func (m *migrator) record(ctx context.Context, tx *sql.Tx, info migrationInfo) error {
	query := fmt.Sprintf(`INSERT INTO %s (version) VALUES (%s)`, m.versionTable(), m.placeholder())
	if _, err := tx.ExecContext(ctx, query, info.versionStr); err != nil {
		return fmt.Errorf("record migration %s: %w", info.file, err)
	}
	return nil
}

func (m *migrator) apply(ctx context.Context, info migrationInfo) error {
	exists, err := m.exists(ctx, info)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	sqlBytes, err := migrationsFS.ReadFile("migrations/" + m.opts.Dialect + "/" + info.file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", info.file, err)
	}

	m.logger.InfoContext(ctx, "applying migration", "version", info.versionStr, "prefix", m.opts.TablePrefix)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			m.logger.ErrorContext(ctx, "failed to rollback transaction", "err", rollbackErr, "migration_file", info.file)
		}
	}()

	// MySQL rejects multi-statement Exec unless multiStatements is enabled, so statements run one by one.
	for _, stmt := range SplitStatements(Render(string(sqlBytes), m.opts.TablePrefix)) {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return fmt.Errorf("exec migration %s: %w", info.file, execErr)
		}
	}
	if recordErr := m.record(ctx, tx, info); recordErr != nil {
		return recordErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit migration %s: %w", info.file, commitErr)
	}
	return nil
}

// Render substitutes the table prefix into a migration body.
func Render(body, prefix string) string {
	return strings.ReplaceAll(body, prefixToken, prefix)
}

// SplitStatements splits a migration body on semicolons that end a line, dropping comment-only chunks.
func SplitStatements(body string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if stmt := strings.TrimSpace(cur.String()); stmt != "" && !commentOnly(stmt) {
			out = append(out, stmt)
		}
		cur.Reset()
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, ";") {
			cur.WriteString(strings.TrimSuffix(trimmed, ";"))
			flush()
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return out
}

func commentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
