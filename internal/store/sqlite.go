// ABOUTME: SQLite implementation of the Store interface (modernc.org/sqlite or mattn/go-sqlite3)
// ABOUTME: Provides family, account and caretaker persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // pure Go, modernc.org/sqlite
	DriverCgo     = "sqlite3" // cgo, github.com/mattn/go-sqlite3
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the named driver.
// An empty driver selects the pure Go driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCgo {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// newSQLiteStoreWithDB wraps an already-open database without touching its schema.
func newSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id               TEXT PRIMARY KEY,
			email            TEXT NOT NULL UNIQUE,
			password_hash    TEXT NOT NULL,
			verified         INTEGER NOT NULL DEFAULT 0,
			beta_participant INTEGER NOT NULL DEFAULT 0,
			trial_ends       TEXT,
			plan_expires     TEXT,
			plan_type        TEXT,
			closed           INTEGER NOT NULL DEFAULT 0,
			family_id        TEXT,
			caretaker_id     TEXT,
			created_at       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS families (
			id              TEXT PRIMARY KEY,
			slug            TEXT NOT NULL UNIQUE,
			name            TEXT NOT NULL,
			auth_mode       TEXT NOT NULL DEFAULT 'SYSTEM',
			system_pin_hash TEXT,
			account_id      TEXT,
			created_at      TEXT NOT NULL,

			CHECK (auth_mode IN ('SYSTEM', 'CARETAKER'))
		);

		CREATE INDEX IF NOT EXISTS idx_families_account ON families(account_id);

		CREATE TABLE IF NOT EXISTS caretakers (
			id         TEXT PRIMARY KEY,
			family_id  TEXT NOT NULL,
			login_id   TEXT NOT NULL,
			name       TEXT NOT NULL,
			type       TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT 'USER',
			pin_hash   TEXT NOT NULL,
			inactive   INTEGER NOT NULL DEFAULT 0,
			deleted    INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (family_id) REFERENCES families(id),

			CHECK (role IN ('USER', 'ADMIN'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_caretakers_family_login
			ON caretakers(family_id, login_id);

		CREATE TABLE IF NOT EXISTS setup_tokens (
			token         TEXT PRIMARY KEY,
			family_id     TEXT,
			password_hash TEXT NOT NULL,
			expires_at    TEXT NOT NULL,
			used          INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS activities (
			id           TEXT PRIMARY KEY,
			family_id    TEXT NOT NULL,
			caretaker_id TEXT,
			kind         TEXT NOT NULL,
			notes        TEXT,
			occurred_at  TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			FOREIGN KEY (family_id) REFERENCES families(id)
		);

		CREATE INDEX IF NOT EXISTS idx_activities_family_occurred
			ON activities(family_id, occurred_at);

		CREATE TABLE IF NOT EXISTS app_settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor_kind  TEXT NOT NULL,
			actor_id    TEXT,
			family_id   TEXT,
			action      TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id   TEXT,
			source      TEXT,
			ts          TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log(ts);
		CREATE INDEX IF NOT EXISTS idx_audit_log_family ON audit_log(family_id, ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime formats t as RFC3339 or returns nil when t is unset
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
