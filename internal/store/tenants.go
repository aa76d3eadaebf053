package store

import (
	"context"
	"fmt"
)

// EraseTenant removes every relational record belonging to a tenant in one
// transaction: chunks, jobs, permission grants, verified answers, and the
// sources themselves. Vector data lives in qdrant and is dropped separately
// by the caller via the index's DropNamespace.
func (s *Store) EraseTenant(ctx context.Context, tenantID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: erase tenant begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	// Chunks carry no tenant column, so they go through the sources table.
	stmts := []string{
		`DELETE FROM chunks WHERE source_id IN (SELECT id FROM sources WHERE tenant_id = ?)`,
		`DELETE FROM jobs WHERE tenant_id = ?`,
		`DELETE FROM permission_grants WHERE tenant_id = ?`,
		`DELETE FROM verified_answers WHERE tenant_id = ?`,
		`DELETE FROM sources WHERE tenant_id = ?`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, tenantID); err != nil {
			return fmt.Errorf("store: erase tenant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: erase tenant commit: %w", err)
	}
	return nil
}
