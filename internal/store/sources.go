package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SourceStatus enumerates the lifecycle states of a content source.
type SourceStatus string

const (
	// SourcePending means the source is recorded but not yet processed.
	SourcePending SourceStatus = "pending"
	// SourceProcessing means the content processor is working on it.
	SourceProcessing SourceStatus = "processing"
	// SourceLive means the source's chunks are searchable.
	SourceLive SourceStatus = "live"
	// SourceError means processing failed; Error carries the details.
	SourceError SourceStatus = "error"
)

// Source is an ingested piece of content (document, transcript, thread).
type Source struct {
	// ID is the source UUID.
	ID string
	// TenantID scopes the source to one tenant.
	TenantID string
	// DisplayName is the human-readable name shown in citations.
	DisplayName string
	// OriginURL is the upstream location, if any.
	OriginURL string
	// ContentHash is the sha256 of the raw text; the dedup key per tenant.
	ContentHash string
	// Status is the current lifecycle state.
	Status SourceStatus
	// ChunkCount is the number of chunks produced by the last processing pass.
	ChunkCount int
	// Error holds structured failure details when Status is error.
	Error *SourceFailure
	// CreatedAt is when the source was first recorded (Unix seconds).
	CreatedAt int64
	// UpdatedAt is when the source was last mutated (Unix seconds).
	UpdatedAt int64
}

// SourceFailure is the structured error surfaced on a failed source.
type SourceFailure struct {
	// Code is a stable machine-readable failure code.
	Code string `json:"code"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Step names the pipeline stage that failed (extract, enrich, embed, index).
	Step string `json:"step"`
}

// Citation is the human-readable provenance of a retrieved chunk.
type Citation struct {
	// SourceID is the source the chunk came from.
	SourceID string `json:"source_id"`
	// DisplayName is the source's display name.
	DisplayName string `json:"display_name"`
	// OriginURL is the upstream location, empty if none.
	OriginURL string `json:"origin_url,omitempty"`
}

// HashContent returns the content-addressable hash used for source dedup.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum)
}

// UpsertSourceByHash records a source, deduplicating on (tenant, content hash):
// two uploads with identical content resolve to the same source row. The
// returned source carries the canonical id to use for processing.
func (s *Store) UpsertSourceByHash(ctx context.Context, tenantID, displayName, originURL, contentHash string) (*Source, error) {
	existing, err := s.sourceByHash(ctx, tenantID, contentHash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id := uuid.NewString()
	ts := now()
	const q = `
INSERT INTO sources (id, tenant_id, display_name, origin_url, content_hash, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
ON CONFLICT (tenant_id, content_hash) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, id, tenantID, displayName, originURL, contentHash, ts, ts); err != nil {
		return nil, fmt.Errorf("store: insert source: %w", err)
	}
	// Re-read in case a concurrent insert won the ON CONFLICT race.
	return s.sourceByHash(ctx, tenantID, contentHash)
}

// GetSource returns a source by id, or ErrNotFound.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	const q = `
SELECT id, tenant_id, display_name, origin_url, content_hash, status, chunk_count, error, created_at, updated_at
FROM   sources WHERE id = ?`
	return s.scanSourceRow(s.db.QueryRowContext(ctx, q, id))
}

// sourceByHash returns the source matching (tenant, hash), or ErrNotFound.
func (s *Store) sourceByHash(ctx context.Context, tenantID, contentHash string) (*Source, error) {
	const q = `
SELECT id, tenant_id, display_name, origin_url, content_hash, status, chunk_count, error, created_at, updated_at
FROM   sources WHERE tenant_id = ? AND content_hash = ?`
	return s.scanSourceRow(s.db.QueryRowContext(ctx, q, tenantID, contentHash))
}

// SetSourceStatus transitions a source's status. Non-error transitions clear
// any recorded failure.
func (s *Store) SetSourceStatus(ctx context.Context, id string, status SourceStatus) error {
	const q = `UPDATE sources SET status = ?, error = '', updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, string(status), now(), id)
	if err != nil {
		return fmt.Errorf("store: set source status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSourceLive marks a source live with the chunk count from the latest
// processing pass.
func (s *Store) SetSourceLive(ctx context.Context, id string, chunkCount int) error {
	const q = `UPDATE sources SET status = 'live', chunk_count = ?, error = '', updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, chunkCount, now(), id)
	if err != nil {
		return fmt.Errorf("store: set source live: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSourceError marks a source failed with structured failure details.
func (s *Store) SetSourceError(ctx context.Context, id string, failure SourceFailure) error {
	buf, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("store: marshal source failure: %w", err)
	}
	const q = `UPDATE sources SET status = 'error', error = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, string(buf), now(), id)
	if err != nil {
		return fmt.Errorf("store: set source error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSource removes a source row together with its chunk rows and
// permission grants in a single transaction. Vector deletion is the caller's
// responsibility and must happen before this call so that a crash between the
// two steps leaves no orphaned vectors.
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete source begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete source chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM permission_grants WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete source grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete source row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete source commit: %w", err)
	}
	return nil
}

// ResolveCitations maps chunk ids back to source metadata. Chunks whose
// source has been deleted since indexing are omitted rather than failing the
// whole lookup. Duplicate sources collapse to one citation, input order kept.
func (s *Store) ResolveCitations(ctx context.Context, chunkIDs []string) ([]Citation, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}
	q := `
SELECT c.id, s.id, s.display_name, s.origin_url
FROM   chunks c JOIN sources s ON s.id = c.source_id
WHERE  c.id IN (?` + strings.Repeat(",?", len(chunkIDs)-1) + `)`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: resolve citations: %w", err)
	}
	defer rows.Close()

	byChunk := make(map[string]Citation, len(chunkIDs))
	for rows.Next() {
		var chunkID string
		var c Citation
		if err := rows.Scan(&chunkID, &c.SourceID, &c.DisplayName, &c.OriginURL); err != nil {
			return nil, fmt.Errorf("store: resolve citations scan: %w", err)
		}
		byChunk[chunkID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: resolve citations rows: %w", err)
	}

	var out []Citation
	seen := make(map[string]bool)
	for _, chunkID := range chunkIDs {
		c, ok := byChunk[chunkID]
		if !ok || seen[c.SourceID] {
			continue
		}
		seen[c.SourceID] = true
		out = append(out, c)
	}
	return out, nil
}

// scanSourceRow reads one source row from a QueryRow result.
func (s *Store) scanSourceRow(row *sql.Row) (*Source, error) {
	var src Source
	var status, errJSON string
	if err := row.Scan(&src.ID, &src.TenantID, &src.DisplayName, &src.OriginURL,
		&src.ContentHash, &status, &src.ChunkCount, &errJSON, &src.CreatedAt, &src.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan source: %w", err)
	}
	src.Status = SourceStatus(status)
	if errJSON != "" {
		var f SourceFailure
		if err := json.Unmarshal([]byte(errJSON), &f); err == nil {
			src.Error = &f
		}
	}
	return &src, nil
}
