// Package store provides a SQLite-backed log of answered and refused
// questions. Every ask, from the CLI or the HTTP API, is appended so
// operators can review what the knowledge base could and could not answer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Entry is one logged question and its outcome.
type Entry struct {
	// ID is the row id, assigned on insert.
	ID int64 `json:"id"`
	// Question is the question text as asked.
	Question string `json:"question"`
	// Refused reports whether the refusal gate withheld an answer.
	Refused bool `json:"refused"`
	// TopScore is the best retrieval score; nil when nothing was retrieved.
	TopScore *float64 `json:"top_score,omitempty"`
	// Answer is the synthesized answer or the refusal text.
	Answer string `json:"answer"`
	// Citations is the number of citations returned.
	Citations int `json:"citations"`
	// Source names the surface that handled the question ("cli" or "http").
	Source string `json:"source"`
	// CreatedAt is when the entry was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// AskLog persists and retrieves ask log entries.
// Implementations must be safe for concurrent use.
type AskLog interface {
	// Record persists a single entry. ID and CreatedAt are assigned by the store.
	Record(ctx context.Context, e Entry) error
	// Recent returns the most recent n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is an AskLog backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the ask log database.
// It resolves to ~/.kbqa/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".kbqa")
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
CREATE TABLE IF NOT EXISTS asks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    question    TEXT    NOT NULL,
    refused     INTEGER NOT NULL CHECK(refused IN (0, 1)),
    top_score   REAL,
    answer      TEXT    NOT NULL,
    citations   INTEGER NOT NULL DEFAULT 0,
    source      TEXT    NOT NULL DEFAULT 'cli',
    created_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_asks_created ON asks (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Record persists a single entry.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	const q = `INSERT INTO asks (question, refused, top_score, answer, citations, source, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	var score sql.NullFloat64
	if e.TopScore != nil {
		score = sql.NullFloat64{Float64: *e.TopScore, Valid: true}
	}
	source := e.Source
	if source == "" {
		source = "cli"
	}
	_, err := s.db.ExecContext(ctx, q,
		e.Question, boolInt(e.Refused), score, e.Answer, e.Citations, source, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	const q = `
SELECT id, question, refused, top_score, answer, citations, source, created_at
FROM   asks
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			refused int
			score   sql.NullFloat64
			ts      int64
		)
		if err := rows.Scan(&e.ID, &e.Question, &refused, &score, &e.Answer, &e.Citations, &e.Source, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		e.Refused = refused == 1
		if score.Valid {
			v := score.Float64
			e.TopScore = &v
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
