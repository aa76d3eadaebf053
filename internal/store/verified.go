package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// VerifiedAnswer is an owner-authored question/answer pair. While active it
// always takes precedence over vector-search results for its tenant.
type VerifiedAnswer struct {
	// ID is the record UUID.
	ID string
	// TenantID scopes the answer to one tenant.
	TenantID string
	// Question is the curated question text.
	Question string
	// Answer is the owner's authoritative answer.
	Answer string
	// VectorID is the id of the verified point in the vector index, if the
	// answer has been injected for near-miss matching.
	VectorID string
	// Active gates whether the answer participates in retrieval.
	Active bool
	// CreatedAt is when the answer was recorded (Unix seconds).
	CreatedAt int64
}

// CreateVerifiedAnswer records a new active verified answer.
func (s *Store) CreateVerifiedAnswer(ctx context.Context, tenantID, question, answer, vectorID string) (*VerifiedAnswer, error) {
	va := &VerifiedAnswer{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Question:  question,
		Answer:    answer,
		VectorID:  vectorID,
		Active:    true,
		CreatedAt: now(),
	}
	const q = `
INSERT INTO verified_answers (id, tenant_id, question, answer, vector_id, active, created_at)
VALUES (?, ?, ?, ?, ?, 1, ?)`
	if _, err := s.db.ExecContext(ctx, q, va.ID, va.TenantID, va.Question, va.Answer, va.VectorID, va.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: create verified answer: %w", err)
	}
	return va, nil
}

// normalizeQuestion canonicalizes a question for exact matching: lower case
// with all whitespace runs collapsed to single spaces.
func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// MatchVerified returns the active verified answer whose question exactly
// matches the query (case-insensitive, whitespace-normalized), or ErrNotFound.
// When multiple curated answers share a question, the newest wins.
func (s *Store) MatchVerified(ctx context.Context, tenantID, query string) (*VerifiedAnswer, error) {
	const q = `
SELECT id, tenant_id, question, answer, vector_id, active, created_at
FROM   verified_answers
WHERE  tenant_id = ? AND active = 1
ORDER  BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: match verified: %w", err)
	}
	defer rows.Close()

	want := normalizeQuestion(query)
	for rows.Next() {
		va, err := scanVerified(rows)
		if err != nil {
			return nil, fmt.Errorf("store: match verified scan: %w", err)
		}
		if normalizeQuestion(va.Question) == want {
			return va, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: match verified rows: %w", err)
	}
	return nil, ErrNotFound
}

// GetVerifiedAnswer returns a verified answer by id, or ErrNotFound.
func (s *Store) GetVerifiedAnswer(ctx context.Context, id string) (*VerifiedAnswer, error) {
	const q = `
SELECT id, tenant_id, question, answer, vector_id, active, created_at
FROM   verified_answers WHERE id = ?`
	row := s.db.QueryRowContext(ctx, q, id)
	va, err := scanVerified(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get verified answer: %w", err)
	}
	return va, nil
}

// ListVerifiedAnswers returns all active verified answers for a tenant.
func (s *Store) ListVerifiedAnswers(ctx context.Context, tenantID string) ([]*VerifiedAnswer, error) {
	const q = `
SELECT id, tenant_id, question, answer, vector_id, active, created_at
FROM   verified_answers WHERE tenant_id = ? AND active = 1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: list verified: %w", err)
	}
	defer rows.Close()

	var out []*VerifiedAnswer
	for rows.Next() {
		va, err := scanVerified(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list verified scan: %w", err)
		}
		out = append(out, va)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list verified rows: %w", err)
	}
	return out, nil
}

// DeactivateVerifiedAnswer retires a verified answer from retrieval.
func (s *Store) DeactivateVerifiedAnswer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE verified_answers SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: deactivate verified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanVerified reads one verified answer row.
func scanVerified(r rowScanner) (*VerifiedAnswer, error) {
	var va VerifiedAnswer
	var active int
	if err := r.Scan(&va.ID, &va.TenantID, &va.Question, &va.Answer, &va.VectorID, &active, &va.CreatedAt); err != nil {
		return nil, err
	}
	va.Active = active != 0
	return &va, nil
}
