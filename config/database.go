package config

import (
	"fmt"
	"strings"
	"time"
)

// DBDriver names a supported SQL engine.
type DBDriver string

const (
	// DBDriverPostgres uses the pgx stdlib driver.
	DBDriverPostgres DBDriver = "postgres"
	// DBDriverMySQL uses go-sql-driver/mysql.
	DBDriverMySQL DBDriver = "mysql"
	// DBDriverSQLite uses mattn/go-sqlite3.
	DBDriverSQLite DBDriver = "sqlite"
)

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (d *DBDriver) UnmarshalText(text []byte) error {
	switch v := strings.ToLower(strings.TrimSpace(string(text))); v {
	case "postgres", "postgresql", "pgx":
		*d = DBDriverPostgres
	case "mysql", "mariadb":
		*d = DBDriverMySQL
	case "sqlite", "sqlite3":
		*d = DBDriverSQLite
	default:
		return fmt.Errorf("invalid DBDriver: %q (valid options: postgres, mysql, sqlite)", v)
	}
	return nil
}

// DBConfig contains SQL database configuration.
type DBConfig struct {
	Driver   DBDriver `env:"DRIVER"   envDefault:"postgres"`
	Host     string   `env:"HOST"     envDefault:"localhost"`
	Port     int      `env:"PORT"` // Defaults per driver
	User     string   `env:"USER"     envDefault:"jobqueue"`
	Password string   `env:"PASSWORD" envDefault:"jobqueue"`
	Name     string   `env:"NAME"     envDefault:"jobqueue"`
	SSLMode  string   `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// Path is the SQLite database file.
	Path string `env:"PATH" envDefault:"jobqueue.db"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`

	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// Sanitize fills driver-specific defaults.
func (c *DBConfig) Sanitize() {
	if c.Driver == "" {
		c.Driver = DBDriverPostgres
	}
	if c.Port <= 0 {
		switch c.Driver {
		case DBDriverMySQL:
			c.Port = 3306
		case DBDriverPostgres:
			c.Port = 5432
		}
	}
	if c.MaxOpenConns < 1 {
		c.MaxOpenConns = 1
	}
	if c.MaxIdleConns < 0 {
		c.MaxIdleConns = 0
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY between our own goroutines.
	if c.Driver == DBDriverSQLite {
		c.MaxOpenConns = 1
		c.MaxIdleConns = 1
	}
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelPort       string   `env:"SENTINEL_PORT"        envDefault:"26379"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}
