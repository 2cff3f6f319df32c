package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"brokerage-mail-ingestor/internal/models"
)

// Supported database/sql driver names
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

var (
	// ErrDuplicate is returned when a unique constraint rejects a write
	ErrDuplicate = errors.New("duplicate record")

	// ErrNotFound is returned by lookups that must find a row
	ErrNotFound = errors.New("record not found")

	// ErrStatusConflict is returned when a record already left status new
	ErrStatusConflict = errors.New("record is no longer in status new")
)

// Store persists inbound emails, the audit trail and cases. It works on Postgres
// through pgx and on SQLite through modernc; queries use ? placeholders and are rebound per driver.
type Store struct {
	db *sqlx.DB
}

// Open connects to the configured database and applies pending migrations
func Open(ctx context.Context, cfg models.DatabaseConfig) (*Store, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return nil, &models.ConfigError{Reason: fmt.Sprintf("unsupported database driver %q", cfg.Driver)}
	}
	if cfg.URL == "" {
		return nil, &models.ConfigError{Reason: "database url is required"}
	}

	db, err := sqlx.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// One connection keeps :memory: databases shared and avoids SQLITE_BUSY on files.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s db: %w", cfg.Driver, err)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// New wraps an already opened database without running migrations
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// isUniqueViolation recognizes unique constraint failures of both drivers
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
