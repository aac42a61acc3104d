package areas

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Assignment links a user to an area.
type Assignment struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	AreaID     int64     `json:"area_id"`
	AssignedBy *int64    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// AssignUser links a user to an area. Both sides must live in the tenant.
// Re-assigning refreshes assigned_at and assigned_by rather than erroring.
func (s *Store) AssignUser(ctx context.Context, userID, areaID, tenantID int64, assignedBy *int64) error {
	if _, err := s.Get(ctx, areaID, tenantID); err != nil {
		return err
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM users
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, userID, tenantID).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check user tenant: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_areas (user_id, area_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, area_id)
		DO UPDATE SET assigned_by = EXCLUDED.assigned_by, assigned_at = EXCLUDED.assigned_at
	`, userID, areaID, assignedBy)
	if err != nil {
		return fmt.Errorf("failed to assign area: %w", err)
	}
	return nil
}

// UnassignUser removes a user's link to an area. The area must resolve within
// the tenant; removing a link that does not exist is a no-op.
func (s *Store) UnassignUser(ctx context.Context, userID, areaID, tenantID int64) error {
	if _, err := s.Get(ctx, areaID, tenantID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM user_areas WHERE user_id = $1 AND area_id = $2
	`, userID, areaID)
	if err != nil {
		return fmt.Errorf("failed to unassign area: %w", err)
	}
	return nil
}

// UserAreas returns the live areas a user is assigned to.
func (s *Store) UserAreas(ctx context.Context, userID, tenantID int64) ([]Area, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.tenant_id, a.parent_id, a.name, a.name_bn, a.description,
			a.code, a.region, a.is_active, a.created_at, a.updated_at
		FROM areas a
		JOIN user_areas ua ON ua.area_id = a.id
		WHERE ua.user_id = $1 AND a.tenant_id = $2 AND a.deleted_at IS NULL
		ORDER BY a.name ASC
	`, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user areas: %w", err)
	}
	defer rows.Close()

	var out []Area
	for rows.Next() {
		area, err := scanArea(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user area: %w", err)
		}
		out = append(out, *area)
	}
	return out, rows.Err()
}

// AreaUser is one assigned user on an area's member list.
type AreaUser struct {
	UserID         int64     `json:"user_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	AssignedBy     *int64    `json:"assigned_by,omitempty"`
	AssignedByName *string   `json:"assigned_by_name,omitempty"`
	AssignedAt     time.Time `json:"assigned_at"`
}

// AreaUsers returns the live users assigned to an area, with who assigned
// them. Only the tenant's own users are listed.
func (s *Store) AreaUsers(ctx context.Context, areaID, tenantID int64) ([]AreaUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, ua.assigned_by, assigner.name, ua.assigned_at
		FROM user_areas ua
		JOIN users u ON u.id = ua.user_id AND u.tenant_id = $2 AND u.deleted_at IS NULL
		LEFT JOIN users assigner ON assigner.id = ua.assigned_by
		WHERE ua.area_id = $1
		ORDER BY u.name ASC
	`, areaID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list area users: %w", err)
	}
	defer rows.Close()

	var out []AreaUser
	for rows.Next() {
		var au AreaUser
		var assignedBy sql.NullInt64
		var assignerName sql.NullString
		if err := rows.Scan(&au.UserID, &au.Name, &au.Email, &assignedBy, &assignerName, &au.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan area user: %w", err)
		}
		if assignedBy.Valid {
			au.AssignedBy = &assignedBy.Int64
		}
		if assignerName.Valid {
			au.AssignedByName = &assignerName.String
		}
		out = append(out, au)
	}
	return out, rows.Err()
}

// IsAssigned reports whether the user is linked to the area.
func (s *Store) IsAssigned(ctx context.Context, userID, areaID int64) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM user_areas WHERE user_id = $1 AND area_id = $2
	`, userID, areaID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check area assignment: %w", err)
	}
	return true, nil
}
