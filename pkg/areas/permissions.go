package areas

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Action is one of the fine-grained area permission flags.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// RolePermissions is the flag row for one (area, role) pair.
type RolePermissions struct {
	ID        int64     `json:"id"`
	AreaID    int64     `json:"area_id"`
	RoleID    int64     `json:"role_id"`
	CanView   bool      `json:"can_view"`
	CanCreate bool      `json:"can_create"`
	CanEdit   bool      `json:"can_edit"`
	CanDelete bool      `json:"can_delete"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p RolePermissions) allows(action Action) bool {
	switch action {
	case ActionView:
		return p.CanView
	case ActionCreate:
		return p.CanCreate
	case ActionEdit:
		return p.CanEdit
	case ActionDelete:
		return p.CanDelete
	default:
		return false
	}
}

// SetRolePermissions upserts the flag row for an (area, role) pair.
func (s *Store) SetRolePermissions(ctx context.Context, p *RolePermissions) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO area_permissions (area_id, role_id, can_view, can_create, can_edit, can_delete, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (area_id, role_id)
		DO UPDATE SET can_view = EXCLUDED.can_view, can_create = EXCLUDED.can_create,
			can_edit = EXCLUDED.can_edit, can_delete = EXCLUDED.can_delete, updated_at = NOW()
		RETURNING id
	`, p.AreaID, p.RoleID, p.CanView, p.CanCreate, p.CanEdit, p.CanDelete).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to set area permissions: %w", err)
	}
	return nil
}

// GetRolePermissions returns the flag row for an (area, role) pair, or nil
// when none is configured.
func (s *Store) GetRolePermissions(ctx context.Context, areaID, roleID int64) (*RolePermissions, error) {
	var p RolePermissions
	err := s.db.QueryRowContext(ctx, `
		SELECT id, area_id, role_id, can_view, can_create, can_edit, can_delete, created_at, updated_at
		FROM area_permissions
		WHERE area_id = $1 AND role_id = $2
	`, areaID, roleID).Scan(&p.ID, &p.AreaID, &p.RoleID, &p.CanView, &p.CanCreate,
		&p.CanEdit, &p.CanDelete, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get area permissions: %w", err)
	}
	return &p, nil
}

// RemoveRolePermissions deletes the flag row, reverting the pair to
// coarse-only checks.
func (s *Store) RemoveRolePermissions(ctx context.Context, areaID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM area_permissions WHERE area_id = $1 AND role_id = $2
	`, areaID, roleID)
	if err != nil {
		return fmt.Errorf("failed to remove area permissions: %w", err)
	}
	return nil
}

// AllowsAction evaluates the fine-grained layer for a role on an area. When no
// flag row is configured the layer abstains and the coarse permission check
// alone governs: (allowed=true, configured=false).
func (s *Store) AllowsAction(ctx context.Context, areaID, roleID int64, action Action) (allowed, configured bool, err error) {
	p, err := s.GetRolePermissions(ctx, areaID, roleID)
	if err != nil {
		return false, false, err
	}
	if p == nil {
		return true, false, nil
	}
	return p.allows(action), true, nil
}
