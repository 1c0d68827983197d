// Package store persists engine state in SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/wsaxqd/home-work2-sub001/internal/logger"

	// Postgres driver registered as "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"
	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store holds the database handle and hands out repositories.
type Store struct {
	db      *sql.DB
	dialect string
	log     *logger.Logger
}

// Open connects to the database, applies pragmas for SQLite and runs
// pending migrations.
func Open(ctx context.Context, driver, dsn string, log *logger.Logger) (*Store, error) {
	log = logger.OrNop(log).With("component", "store")

	var (
		db  *sql.DB
		d   string
		err error
	)
	switch driver {
	case DriverSQLite, "":
		d = dialect.SQLite
		db, err = sql.Open("sqlite", dsn)
	case DriverPostgres, "pgx":
		d = dialect.Postgres
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if d == dialect.SQLite {
		// One writer; also keeps in-memory databases on a single connection.
		db.SetMaxOpenConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragmas: %w", err)
		}
	}

	s := &Store{db: db, dialect: d, log: log}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying *sql.DB for raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the ent dialect name in use.
func (s *Store) Dialect() string {
	return s.dialect
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect)
}

// applyPragmas configures SQLite for a single local writer.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// DefaultDSN returns the per-user SQLite database path,
// $XDG_DATA_HOME/learnengine/learnengine.db or
// ~/.local/share/learnengine/learnengine.db, creating its directory.
func DefaultDSN() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return SQLiteDSN(filepath.Join(dataHome, "learnengine", "learnengine.db"))
}

// SQLiteDSN prepares a SQLite DSN. Plain file paths get their parent
// directory created; "file:" URIs are returned as is.
func SQLiteDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	return dsn, os.MkdirAll(filepath.Dir(dsn), 0o755)
}
