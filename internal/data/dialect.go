package data

import (
	"fmt"
	"strings"

	"github.com/target/mmk-jobqueue/internal/data/database"
	"github.com/target/mmk-jobqueue/internal/migrate"
)

// Dialect describes how the SQL strategy talks to one database engine.
type Dialect struct {
	// Name matches the migrate dialect names.
	Name string
	// DriverName is the database/sql driver registered for the engine.
	DriverName string
	// LockClause claims a row exclusively; empty when the engine has no row locks.
	LockClause string
	// SizeConstrained marks engines whose data column is capped at 64 KiB.
	SizeConstrained bool

	flavor database.Flavor
}

var (
	// PostgresDialect uses the pgx stdlib driver.
	PostgresDialect = Dialect{
		Name:       migrate.DialectPostgres,
		DriverName: "pgx",
		LockClause: "FOR UPDATE SKIP LOCKED",
		flavor:     database.Postgres,
	}
	// MySQLDialect uses go-sql-driver/mysql. Requires MySQL 8.0+ for SKIP LOCKED.
	MySQLDialect = Dialect{
		Name:            migrate.DialectMySQL,
		DriverName:      "mysql",
		LockClause:      "FOR UPDATE SKIP LOCKED",
		SizeConstrained: true,
		flavor:          database.MySQL,
	}
	// SQLiteDialect uses mattn/go-sqlite3. Next runs without row locks or a transaction, so
	// claim exclusivity is not guaranteed across processes sharing the database file. The
	// state compare in the claim update only catches a row claimed between select and update;
	// it cannot tell a retrying row that was claimed and failed back to retrying in the meantime.
	// Run a single consumer process against a sqlite store.
	SQLiteDialect = Dialect{
		Name:       migrate.DialectSQLite,
		DriverName: "sqlite3",
		flavor:     database.SQLite,
	}
)

// ParseDialect resolves a configured driver name.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx", "":
		return PostgresDialect, nil
	case "mysql", "mariadb":
		return MySQLDialect, nil
	case "sqlite", "sqlite3":
		return SQLiteDialect, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported SQL dialect %q", name)
	}
}

// SupportsLocking reports whether Next can claim rows inside a locking transaction.
func (d Dialect) SupportsLocking() bool {
	return d.LockClause != ""
}

// Flavor returns the query builder syntax for the dialect.
func (d Dialect) Flavor() database.Flavor {
	if d.flavor.Placeholder == nil {
		return database.Postgres
	}
	return d.flavor
}
