// Package verified manages owner-curated question/answer pairs. A verified
// answer lives in two places: the relational row for exact matching and
// audit, and an injected vector point so similarity search can surface
// near-miss phrasings of the same question.
package verified

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mirrorform/twind-go/internal/embedder"
	"github.com/mirrorform/twind-go/internal/store"
	"github.com/mirrorform/twind-go/internal/vecstore"
)

// Manager creates, matches, and retires verified answers.
type Manager struct {
	store *store.Store
	index vecstore.Index
	embed embedder.Embedder
	log   *slog.Logger
}

// NewManager constructs a Manager.
func NewManager(st *store.Store, index vecstore.Index, embed embedder.Embedder, log *slog.Logger) *Manager {
	return &Manager{store: st, index: index, embed: embed, log: log}
}

// Create records a verified answer and injects it into the tenant's vector
// namespace. The injected point embeds question and answer together so
// paraphrased questions land near it.
func (m *Manager) Create(ctx context.Context, tenantID, question, answer string) (*store.VerifiedAnswer, error) {
	text := question + "\n" + answer
	vecs, err := m.embed.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("verified: embed answer: %w", err)
	}

	vectorID := uuid.NewString()
	va, err := m.store.CreateVerifiedAnswer(ctx, tenantID, question, answer, vectorID)
	if err != nil {
		return nil, err
	}

	point := vecstore.Point{
		ID:       vectorID,
		Vector:   vecs[0],
		Text:     answer,
		ChunkID:  va.ID,
		Verified: true,
	}
	if err := m.index.Upsert(ctx, tenantID, []vecstore.Point{point}); err != nil {
		// The row stays usable for exact matching; only near-miss search
		// loses this answer until the next create succeeds.
		m.log.Error("verified: failed to inject answer vector",
			slog.String("verified_id", va.ID),
			slog.String("error", err.Error()),
		)
		return va, nil
	}

	m.log.Info("verified: answer created",
		slog.String("verified_id", va.ID),
		slog.String("tenant_id", tenantID),
	)
	return va, nil
}

// Match returns the active verified answer whose question exactly matches
// the query, or store.ErrNotFound.
func (m *Manager) Match(ctx context.Context, tenantID, query string) (*store.VerifiedAnswer, error) {
	return m.store.MatchVerified(ctx, tenantID, query)
}

// Deactivate retires a verified answer: the injected vector is removed and
// the row is deactivated but kept for audit.
func (m *Manager) Deactivate(ctx context.Context, tenantID, id string) error {
	va, err := m.store.GetVerifiedAnswer(ctx, id)
	if err != nil {
		return err
	}

	if va.VectorID != "" {
		if err := m.index.DeletePoints(ctx, tenantID, []string{va.VectorID}); err != nil {
			return fmt.Errorf("verified: remove answer vector: %w", err)
		}
	}
	if err := m.store.DeactivateVerifiedAnswer(ctx, id); err != nil {
		return err
	}

	m.log.Info("verified: answer deactivated", slog.String("verified_id", id))
	return nil
}

// List returns the tenant's verified answers, newest first.
func (m *Manager) List(ctx context.Context, tenantID string) ([]*store.VerifiedAnswer, error) {
	return m.store.ListVerifiedAnswers(ctx, tenantID)
}
