// Package store provides a SQLite-backed question history store. Every
// answered question is persisted with its final answer and the intents that
// drove it, surviving server restarts for the history API.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Entry is one answered question.
type Entry struct {
	// Question is the raw question as asked.
	Question string
	// Answer is the final rendered answer text.
	Answer string
	// Intents lists the detected intent names, in detection order.
	Intents []string
	// Confidence is the answer's confidence in [0, 1].
	Confidence float32
	// Cluster is the cluster the question was scoped to, if any.
	Cluster string
	// CreatedAt is when the entry was persisted.
	CreatedAt time.Time
}

// HistoryStore persists and retrieves answered questions.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Append persists one answered question.
	Append(ctx context.Context, e Entry) error
	// Recent returns the most recent n entries, newest-first.
	// If fewer than n entries exist, all are returned.
	Recent(ctx context.Context, n int) ([]Entry, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a HistoryStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the history database.
// It resolves to ~/.dbrag/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".dbrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    question     TEXT    NOT NULL,
    answer       TEXT    NOT NULL,
    intents      TEXT    NOT NULL,  -- comma-separated intent names
    confidence   REAL    NOT NULL,
    cluster      TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL   -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_history_created
    ON history (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists one answered question.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	const q = `INSERT INTO history (question, answer, intents, confidence, cluster, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, q,
		e.Question, e.Answer, strings.Join(e.Intents, ","), e.Confidence, e.Cluster, ts.Unix())
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries, newest-first. Uses a subquery to
// select the tail so the LIMIT applies before ordering for presentation.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	const q = `
SELECT question, answer, intents, confidence, cluster, created_at FROM (
    SELECT id, question, answer, intents, confidence, cluster, created_at
    FROM   history
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var intents string
		var ts int64
		if err := rows.Scan(&e.Question, &e.Answer, &intents, &e.Confidence, &e.Cluster, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		if intents != "" {
			e.Intents = strings.Split(intents, ",")
		}
		e.CreatedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return entries, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
