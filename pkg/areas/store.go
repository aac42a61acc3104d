// Package areas manages the tenant's area tree, user-to-area assignments and
// the optional per-area role permission flags layered on top of the global
// permission checks.
package areas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors translated by handlers.
var (
	ErrAreaNotFound  = errors.New("area not found")
	ErrDuplicateCode = errors.New("area code already in use in this tenant")
	ErrParentCycle   = errors.New("area cannot be its own ancestor")
	ErrParentMissing = errors.New("parent area not found in this tenant")
	ErrUserNotFound  = errors.New("user not found in this tenant")
)

// Area is one node of a tenant's area tree.
type Area struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	ParentID    *int64     `json:"parent_id,omitempty"`
	Name        string     `json:"name"`
	NameBn      string     `json:"name_bn,omitempty"`
	Description string     `json:"description,omitempty"`
	Code        string     `json:"code"`
	Region      string     `json:"region,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Store persists areas and their relations.
type Store struct {
	db *sql.DB
}

// NewStore creates an area store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) codeInUse(ctx context.Context, code string, tenantID, excludeID int64) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM areas
		WHERE code = $1 AND tenant_id = $2 AND id <> $3 AND deleted_at IS NULL
		LIMIT 1
	`, code, tenantID, excludeID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check area code: %w", err)
	}
	return true, nil
}

func (s *Store) parentExists(ctx context.Context, parentID, tenantID int64) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM areas
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, parentID, tenantID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check parent area: %w", err)
	}
	return true, nil
}

// checkCycle walks the parent chain upward from candidateParent and fails if
// it reaches areaID. The walk is bounded so corrupt data cannot loop forever.
func (s *Store) checkCycle(ctx context.Context, areaID, candidateParent int64) error {
	const maxDepth = 100
	current := candidateParent
	for depth := 0; depth < maxDepth; depth++ {
		if current == areaID {
			return ErrParentCycle
		}
		var parent sql.NullInt64
		err := s.db.QueryRowContext(ctx,
			`SELECT parent_id FROM areas WHERE id = $1`, current).Scan(&parent)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to walk area ancestry: %w", err)
		}
		if !parent.Valid {
			return nil
		}
		current = parent.Int64
	}
	return ErrParentCycle
}

// Create inserts an area. Codes are unique among the tenant's live areas.
func (s *Store) Create(ctx context.Context, area *Area) error {
	inUse, err := s.codeInUse(ctx, area.Code, area.TenantID, 0)
	if err != nil {
		return err
	}
	if inUse {
		return ErrDuplicateCode
	}

	if area.ParentID != nil {
		ok, err := s.parentExists(ctx, *area.ParentID, area.TenantID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrParentMissing
		}
	}

	now := time.Now()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO areas (tenant_id, parent_id, name, name_bn, description, code, region, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id
	`, area.TenantID, area.ParentID, area.Name, area.NameBn, area.Description,
		area.Code, area.Region, area.IsActive, now).Scan(&area.ID)
	if err != nil {
		return fmt.Errorf("failed to create area: %w", err)
	}
	area.CreatedAt = now
	area.UpdatedAt = now
	return nil
}

// Update rewrites an area's name, code and parent. Reparenting onto a
// descendant is rejected.
func (s *Store) Update(ctx context.Context, area *Area) error {
	inUse, err := s.codeInUse(ctx, area.Code, area.TenantID, area.ID)
	if err != nil {
		return err
	}
	if inUse {
		return ErrDuplicateCode
	}

	if area.ParentID != nil {
		ok, err := s.parentExists(ctx, *area.ParentID, area.TenantID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrParentMissing
		}
		if err := s.checkCycle(ctx, area.ID, *area.ParentID); err != nil {
			return err
		}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE areas
		SET name = $1, name_bn = $2, description = $3, code = $4, region = $5,
			is_active = $6, parent_id = $7, updated_at = NOW()
		WHERE id = $8 AND tenant_id = $9 AND deleted_at IS NULL
	`, area.Name, area.NameBn, area.Description, area.Code, area.Region,
		area.IsActive, area.ParentID, area.ID, area.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update area: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check area update: %w", err)
	}
	if affected == 0 {
		return ErrAreaNotFound
	}
	return nil
}

func scanArea(scanner interface{ Scan(dest ...interface{}) error }) (*Area, error) {
	var area Area
	var parentID sql.NullInt64
	err := scanner.Scan(&area.ID, &area.TenantID, &parentID, &area.Name, &area.NameBn,
		&area.Description, &area.Code, &area.Region, &area.IsActive,
		&area.CreatedAt, &area.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		area.ParentID = &parentID.Int64
	}
	return &area, nil
}

const areaColumns = `id, tenant_id, parent_id, name, name_bn, description, code, region, is_active, created_at, updated_at`

// Get retrieves a non-deleted area within a tenant.
func (s *Store) Get(ctx context.Context, areaID, tenantID int64) (*Area, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+areaColumns+` FROM areas
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, areaID, tenantID)

	area, err := scanArea(row)
	if err == sql.ErrNoRows {
		return nil, ErrAreaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get area: %w", err)
	}
	return area, nil
}

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	ParentID   *int64
	Region     string
	ActiveOnly bool
	// Search matches against name, name_bn and code, case-insensitively.
	Search string
}

// List returns a tenant's live areas ordered for tree assembly.
func (s *Store) List(ctx context.Context, tenantID int64, filter ListFilter) ([]Area, error) {
	query := `
		SELECT ` + areaColumns + ` FROM areas
		WHERE tenant_id = $1 AND deleted_at IS NULL
	`
	args := []interface{}{tenantID}
	if filter.ParentID != nil {
		args = append(args, *filter.ParentID)
		query += fmt.Sprintf(` AND parent_id = $%d`, len(args))
	}
	if filter.Region != "" {
		args = append(args, filter.Region)
		query += fmt.Sprintf(` AND region = $%d`, len(args))
	}
	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		query += fmt.Sprintf(` AND (name ILIKE $%d OR name_bn ILIKE $%d OR code ILIKE $%d)`, n, n, n)
	}
	query += ` ORDER BY parent_id NULLS FIRST, name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}
	defer rows.Close()

	var out []Area
	for rows.Next() {
		area, err := scanArea(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan area: %w", err)
		}
		out = append(out, *area)
	}
	return out, rows.Err()
}

// Delete soft-deletes an area and detaches its children.
func (s *Store) Delete(ctx context.Context, areaID, tenantID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE areas SET deleted_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, areaID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete area: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check area delete: %w", err)
	}
	if affected == 0 {
		return ErrAreaNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE areas SET parent_id = NULL, updated_at = NOW()
		WHERE parent_id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, areaID, tenantID); err != nil {
		return fmt.Errorf("failed to detach child areas: %w", err)
	}

	return tx.Commit()
}
