package store

import (
	"context"
	"fmt"
)

// GrantSource gives a permission group access to a source. Granting twice is
// a no-op.
func (s *Store) GrantSource(ctx context.Context, tenantID, group, sourceID string) error {
	const q = `
INSERT INTO permission_grants (tenant_id, group_name, source_id)
VALUES (?, ?, ?)
ON CONFLICT (tenant_id, group_name, source_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, tenantID, group, sourceID); err != nil {
		return fmt.Errorf("store: grant source: %w", err)
	}
	return nil
}

// RevokeSource removes a permission group's access to a source.
func (s *Store) RevokeSource(ctx context.Context, tenantID, group, sourceID string) error {
	const q = `DELETE FROM permission_grants WHERE tenant_id = ? AND group_name = ? AND source_id = ?`
	if _, err := s.db.ExecContext(ctx, q, tenantID, group, sourceID); err != nil {
		return fmt.Errorf("store: revoke source: %w", err)
	}
	return nil
}

// GrantedSources returns the set of source ids granted to a permission group.
func (s *Store) GrantedSources(ctx context.Context, tenantID, group string) (map[string]bool, error) {
	const q = `SELECT source_id FROM permission_grants WHERE tenant_id = ? AND group_name = ?`

	rows, err := s.db.QueryContext(ctx, q, tenantID, group)
	if err != nil {
		return nil, fmt.Errorf("store: granted sources: %w", err)
	}
	defer rows.Close()

	granted := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: granted sources scan: %w", err)
		}
		granted[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: granted sources rows: %w", err)
	}
	return granted, nil
}
