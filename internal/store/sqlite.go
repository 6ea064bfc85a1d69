// ABOUTME: SQLite implementation of courier persistence using modernc.org/sqlite
// ABOUTME: Owns schema creation, connection setup, and shared query helpers

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

	_ "modernc.org/sqlite"
)

// SQLiteStore persists users, conversations and messages in a single SQLite
// database. All mutating multi-record operations run inside transactions.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Wait on concurrent writers instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			email      TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_name ON users(name, id);

		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			participant_lo    TEXT NOT NULL,
			participant_hi    TEXT NOT NULL,
			last_message_text TEXT NOT NULL DEFAULT '',
			last_updated_at   INTEGER NOT NULL,
			created_at        INTEGER NOT NULL,

			CHECK (participant_lo < participant_hi)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(participant_lo, participant_hi);

		CREATE INDEX IF NOT EXISTS idx_conversations_lo
			ON conversations(participant_lo, last_updated_at DESC);

		CREATE INDEX IF NOT EXISTS idx_conversations_hi
			ON conversations(participant_hi, last_updated_at DESC);

		CREATE TABLE IF NOT EXISTS conversation_unread (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			participant_id  TEXT NOT NULL,
			count           INTEGER NOT NULL DEFAULT 0,

			PRIMARY KEY (conversation_id, participant_id),
			CHECK (count >= 0)
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender          TEXT NOT NULL,
			text            TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			read            INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at, seq);

		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(conversation_id, read, sender);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
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

// isBusy checks if the error indicates the database is temporarily locked
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY")
}

// wrapDBError maps driver errors to the store's taxonomy. Busy/locked errors
// become ErrUnavailable so callers can decide whether a retry is safe.
func wrapDBError(op string, err error) error {
	if isBusy(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin tx", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError("commit tx", err)
	}
	return nil
}

// nanos converts a time to the integer representation used in the schema.
// Integer unix nanoseconds keep ORDER BY comparisons exact regardless of
// string formatting.
func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// fromNanos converts a stored integer timestamp back to time.Time.
func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
