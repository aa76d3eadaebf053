// Package store provides the SQLite-backed relational store for the twind
// platform: job records, content sources, chunk rows, verified answers, and
// permission grants. The store is the system of record for everything except
// the embeddings themselves, which live in the vector index.
//
// All mutating operations are plain idempotent writes except the job claim,
// which is a conditional UPDATE and the only mutual-exclusion point in the
// system.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite connection pool and exposes the record stores.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the twind database.
// It resolves to ~/.twind/twind.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".twind")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "twind.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent
	// writes. The conditional-UPDATE claim stays correct regardless of pool size.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS jobs (
    id                 TEXT    PRIMARY KEY,
    source_id          TEXT    NOT NULL,
    tenant_id          TEXT    NOT NULL,
    job_type           TEXT    NOT NULL,
    priority           INTEGER NOT NULL DEFAULT 0,
    status             TEXT    NOT NULL CHECK(status IN ('queued','processing','complete','failed','dead_letter')),
    retry_count        INTEGER NOT NULL DEFAULT 0,
    next_attempt_after INTEGER NOT NULL DEFAULT 0,  -- Unix timestamp (seconds)
    metadata           TEXT    NOT NULL DEFAULT '{}',
    worker_id          TEXT    NOT NULL DEFAULT '',
    error              TEXT    NOT NULL DEFAULT '',
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_claimable
    ON jobs (status, next_attempt_after, priority, created_at);

CREATE TABLE IF NOT EXISTS sources (
    id           TEXT    PRIMARY KEY,
    tenant_id    TEXT    NOT NULL,
    display_name TEXT    NOT NULL,
    origin_url   TEXT    NOT NULL DEFAULT '',
    content_hash TEXT    NOT NULL,
    status       TEXT    NOT NULL CHECK(status IN ('pending','processing','live','error')),
    chunk_count  INTEGER NOT NULL DEFAULT 0,
    error        TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,
    UNIQUE (tenant_id, content_hash)
);

CREATE TABLE IF NOT EXISTS chunks (
    id                TEXT    PRIMARY KEY,
    source_id         TEXT    NOT NULL,
    seq               INTEGER NOT NULL,
    content           TEXT    NOT NULL,
    vector_id         TEXT    NOT NULL,
    synthetic_queries TEXT    NOT NULL DEFAULT '[]',
    category          TEXT    NOT NULL DEFAULT 'FACT',
    tone              TEXT    NOT NULL DEFAULT 'Neutral'
);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks (source_id, seq);

CREATE TABLE IF NOT EXISTS verified_answers (
    id         TEXT    PRIMARY KEY,
    tenant_id  TEXT    NOT NULL,
    question   TEXT    NOT NULL,
    answer     TEXT    NOT NULL,
    vector_id  TEXT    NOT NULL DEFAULT '',
    active     INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verified_tenant ON verified_answers (tenant_id, active);

CREATE TABLE IF NOT EXISTS permission_grants (
    tenant_id  TEXT NOT NULL,
    group_name TEXT NOT NULL,
    source_id  TEXT NOT NULL,
    PRIMARY KEY (tenant_id, group_name, source_id)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// now returns the current Unix timestamp in seconds. Overridable in tests.
var now = func() int64 { return time.Now().Unix() }
