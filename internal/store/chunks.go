package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Chunk is one searchable unit of a source's content. Chunk identities are
// regenerated on every processing pass; only chunk boundaries are stable for
// a given text.
type Chunk struct {
	// ID is the chunk UUID.
	ID string
	// SourceID is the owning source.
	SourceID string
	// Seq is the chunk's position within the source text.
	Seq int
	// Content is the raw chunk text.
	Content string
	// VectorID is the id of the corresponding point in the vector index.
	VectorID string
	// SyntheticQueries are the questions this chunk answers, generated
	// during enrichment to improve retrieval.
	SyntheticQueries []string
	// Category is FACT or OPINION.
	Category string
	// Tone is a one-word style descriptor.
	Tone string
}

// ReplaceChunks atomically replaces the full chunk set for a source. Old
// rows are deleted and the new set inserted in one transaction; chunk sets
// are never merged, so reprocessing the same content is idempotent.
func (s *Store) ReplaceChunks(ctx context.Context, sourceID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: replace chunks begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("store: replace chunks delete: %w", err)
	}

	const q = `
INSERT INTO chunks (id, source_id, seq, content, vector_id, synthetic_queries, category, tone)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, c := range chunks {
		queries, err := json.Marshal(c.SyntheticQueries)
		if err != nil {
			return fmt.Errorf("store: marshal synthetic queries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, c.ID, sourceID, c.Seq, c.Content,
			c.VectorID, string(queries), c.Category, c.Tone); err != nil {
			return fmt.Errorf("store: insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: replace chunks commit: %w", err)
	}
	return nil
}

// ChunksBySource returns all chunks for a source ordered by sequence.
func (s *Store) ChunksBySource(ctx context.Context, sourceID string) ([]Chunk, error) {
	const q = `
SELECT id, source_id, seq, content, vector_id, synthetic_queries, category, tone
FROM   chunks WHERE source_id = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, q, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: chunks by source: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var queries string
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Seq, &c.Content, &c.VectorID,
			&queries, &c.Category, &c.Tone); err != nil {
			return nil, fmt.Errorf("store: chunks scan: %w", err)
		}
		if queries != "" {
			if err := json.Unmarshal([]byte(queries), &c.SyntheticQueries); err != nil {
				return nil, fmt.Errorf("store: unmarshal synthetic queries: %w", err)
			}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chunks rows: %w", err)
	}
	return chunks, nil
}
