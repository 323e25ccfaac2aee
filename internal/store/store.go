package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migrations run in order on top of schema.sql; user_version records how
// many have been applied.
var migrations = []string{
	// 1: per-boot lookups of the reset journal.
	`CREATE INDEX IF NOT EXISTS idx_reset_log_boot ON reset_log(boot_id, cycle)`,
}

// Store keeps the Reset Guard block and the reset journal in SQLite.
// A single connection serialises writers; synchronous=FULL makes every
// committed block write survive power loss.
type Store struct {
	db *sql.DB
}

// dsn carries the pragmas as go-sqlite3 connection parameters so that
// they apply to every connection the pool opens.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "FULL")
	q.Set("_busy_timeout", "5000")
	return path + "?" + q.Encode()
}

// Open creates or opens the database at path and brings its schema up to
// date. Opening an existing store again is safe.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database. Calling it twice is harmless.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&applied); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for i := applied; i < len(migrations); i++ {
		if _, err := db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	if applied < len(migrations) {
		// PRAGMA does not take bind parameters.
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", len(migrations))); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// pragma returns the current value of a pragma. Tests use it to check the
// connection settings.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
