package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bizkhata/bizkhata/pkg/permissions"
)

// Store handles role persistence. All operations are tenant-scoped; a role is
// never visible outside its tenant.
type Store struct {
	db      *sql.DB
	catalog *permissions.Catalog
	index   *Index
}

// NewStore creates a role store sharing the catalog and index.
func NewStore(db *sql.DB, catalog *permissions.Catalog, index *Index) *Store {
	return &Store{db: db, catalog: catalog, index: index}
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx, so validation can run
// inside a caller-owned transaction.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) validateSlug(ctx context.Context, q rowQuerier, slug string, tenantID, excludeID int64) error {
	if !ValidSlug(slug) {
		return ErrInvalidSlug
	}

	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT id FROM roles
		WHERE slug = $1 AND tenant_id = $2 AND id <> $3 AND deleted_at IS NULL
		LIMIT 1
	`, slug, tenantID, excludeID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check slug uniqueness: %w", err)
	}
	return ErrDuplicateSlug
}

// CreateRole validates and inserts a role together with its normalized
// permission rows in one transaction.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if role.TenantID == 0 {
		return ErrTenantRequired
	}
	if err := s.validateSlug(ctx, s.db, role.Slug, role.TenantID, 0); err != nil {
		return err
	}

	names := normalizeNames(role.Permissions)
	s.index.ensureCatalog(ctx, names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertRoleTx(ctx, tx, role, names); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role create: %w", err)
	}

	s.index.notifySync(role.ID)
	return nil
}

// CreateRoleTx validates and inserts a role inside a caller-owned transaction.
// The caller commits; no cache invalidation fires because the normalized rows
// land in the same transaction as the role itself.
func (s *Store) CreateRoleTx(ctx context.Context, tx *sql.Tx, role *Role) error {
	if role.TenantID == 0 {
		return ErrTenantRequired
	}
	if err := s.validateSlug(ctx, tx, role.Slug, role.TenantID, 0); err != nil {
		return err
	}

	names := normalizeNames(role.Permissions)
	s.index.ensureCatalog(ctx, names)
	return s.insertRoleTx(ctx, tx, role, names)
}

func (s *Store) insertRoleTx(ctx context.Context, tx *sql.Tx, role *Role, names []string) error {
	permissionsJSON, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO roles (tenant_id, name, slug, description, permissions, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id
	`, role.TenantID, role.Name, role.Slug, role.Description, string(permissionsJSON), role.CreatedBy, now).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	if _, err := replacePermissionsTx(ctx, tx, role.ID, role.TenantID, names); err != nil {
		return err
	}

	role.Permissions = names
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// UpdateRole replaces a role's fields and permission set (full overwrite, not
// a patch) in one transaction. The owner role keeps its slug and can never be
// stripped of all permissions.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	if role.TenantID == 0 {
		return ErrTenantRequired
	}

	existing, err := s.GetRole(ctx, role.ID, role.TenantID)
	if err != nil {
		return err
	}

	names := normalizeNames(role.Permissions)
	if existing.Slug == SlugOwner && (role.Slug != SlugOwner || len(names) == 0) {
		return ErrProtectedRole
	}

	if err := s.validateSlug(ctx, s.db, role.Slug, role.TenantID, role.ID); err != nil {
		return err
	}

	s.index.ensureCatalog(ctx, names)

	permissionsJSON, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE roles
		SET name = $1, slug = $2, description = $3, permissions = $4, updated_by = $5, updated_at = $6
		WHERE id = $7 AND tenant_id = $8 AND deleted_at IS NULL
	`, role.Name, role.Slug, role.Description, string(permissionsJSON), role.UpdatedBy, now, role.ID, role.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	if _, err := replacePermissionsTx(ctx, tx, role.ID, role.TenantID, names); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role update: %w", err)
	}

	role.Permissions = names
	role.UpdatedAt = now
	s.index.notifySync(role.ID)
	return nil
}

func scanRoleRow(scanner interface{ Scan(dest ...interface{}) error }) (*Role, error) {
	var role Role
	var raw []byte
	var createdBy, updatedBy sql.NullInt64
	var deletedAt sql.NullTime

	err := scanner.Scan(
		&role.ID, &role.TenantID, &role.Name, &role.Slug, &role.Description,
		&raw, &createdBy, &updatedBy, &role.CreatedAt, &role.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	role.Permissions = DecodePermissionList(raw)
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	if createdBy.Valid {
		role.CreatedBy = &createdBy.Int64
	}
	if updatedBy.Valid {
		role.UpdatedBy = &updatedBy.Int64
	}
	if deletedAt.Valid {
		role.DeletedAt = &deletedAt.Time
	}
	return &role, nil
}

const roleColumns = `id, tenant_id, name, slug, description, permissions, created_by, updated_by, created_at, updated_at, deleted_at`

// GetRole retrieves a non-deleted role by id within a tenant.
func (s *Store) GetRole(ctx context.Context, roleID, tenantID int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+roleColumns+`
		FROM roles
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, roleID, tenantID)

	role, err := scanRoleRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleBySlug retrieves a non-deleted role by slug within a tenant.
func (s *Store) GetRoleBySlug(ctx context.Context, slug string, tenantID int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+roleColumns+`
		FROM roles
		WHERE slug = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, slug, tenantID)

	role, err := scanRoleRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// RoleSlug resolves only the slug of a role within a tenant. The hot path of
// every authorization decision.
func (s *Store) RoleSlug(ctx context.Context, roleID, tenantID int64) (string, error) {
	var slug string
	err := s.db.QueryRowContext(ctx, `
		SELECT slug FROM roles
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, roleID, tenantID).Scan(&slug)
	if err == sql.ErrNoRows {
		return "", ErrRoleNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve role slug: %w", err)
	}
	return slug, nil
}

// ListRoles lists a tenant's non-deleted roles with live user counts.
func (s *Store) ListRoles(ctx context.Context, tenantID int64) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.tenant_id, r.name, r.slug, r.description, r.permissions,
		       r.created_by, r.updated_by, r.created_at, r.updated_at, r.deleted_at,
		       (SELECT COUNT(*) FROM users u WHERE u.role_id = r.id AND u.deleted_at IS NULL) AS users_count
		FROM roles r
		WHERE r.tenant_id = $1 AND r.deleted_at IS NULL
		ORDER BY r.created_at ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		var raw []byte
		var createdBy, updatedBy sql.NullInt64
		var deletedAt sql.NullTime

		err := rows.Scan(
			&role.ID, &role.TenantID, &role.Name, &role.Slug, &role.Description,
			&raw, &createdBy, &updatedBy, &role.CreatedAt, &role.UpdatedAt, &deletedAt,
			&role.UsersCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}

		role.Permissions = DecodePermissionList(raw)
		if role.Permissions == nil {
			role.Permissions = []string{}
		}
		if createdBy.Valid {
			role.CreatedBy = &createdBy.Int64
		}
		if updatedBy.Valid {
			role.UpdatedBy = &updatedBy.Int64
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// DeleteRole soft-deletes a role that has no assigned users. Protected slugs
// are never deletable.
func (s *Store) DeleteRole(ctx context.Context, roleID, tenantID int64) error {
	role, err := s.GetRole(ctx, roleID, tenantID)
	if err != nil {
		return err
	}
	if IsProtectedSlug(role.Slug) {
		return ErrProtectedRole
	}

	var usersCount int64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE role_id = $1 AND deleted_at IS NULL`, roleID,
	).Scan(&usersCount)
	if err != nil {
		return fmt.Errorf("failed to count role users: %w", err)
	}
	if usersCount > 0 {
		return ErrRoleInUse
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE roles SET deleted_at = NOW() WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, roleID, tenantID); err != nil {
		return fmt.Errorf("failed to soft-delete role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role delete: %w", err)
	}

	s.index.notifySync(roleID)
	return nil
}

// ForceDeleteRole reassigns every user on the role to the tenant's fallback
// `user` role (creating it if absent), clears the role's permission rows and
// soft-deletes it, all in one transaction. Protected slugs still cannot be
// deleted.
func (s *Store) ForceDeleteRole(ctx context.Context, roleID, tenantID int64, actorID int64) error {
	role, err := s.GetRole(ctx, roleID, tenantID)
	if err != nil {
		return err
	}
	if IsProtectedSlug(role.Slug) {
		return ErrProtectedRole
	}

	fallbackPerms := normalizeNames(permissions.DefaultRolePermissions(s.catalog)[SlugUser])
	s.index.ensureCatalog(ctx, fallbackPerms)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var fallbackID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM roles WHERE slug = $1 AND tenant_id = $2 AND deleted_at IS NULL LIMIT 1
	`, SlugUser, tenantID).Scan(&fallbackID)
	if err == sql.ErrNoRows {
		permissionsJSON, merr := json.Marshal(fallbackPerms)
		if merr != nil {
			return fmt.Errorf("failed to marshal fallback permissions: %w", merr)
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO roles (tenant_id, name, slug, description, permissions, created_by, created_at, updated_at)
			VALUES ($1, 'User', $2, 'Default user role', $3, $4, NOW(), NOW())
			RETURNING id
		`, tenantID, SlugUser, string(permissionsJSON), actorID).Scan(&fallbackID)
		if err != nil {
			return fmt.Errorf("failed to create fallback role: %w", err)
		}
		if _, err := replacePermissionsTx(ctx, tx, fallbackID, tenantID, fallbackPerms); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("failed to resolve fallback role: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET role_id = $1 WHERE role_id = $2 AND deleted_at IS NULL
	`, fallbackID, roleID); err != nil {
		return fmt.Errorf("failed to reassign users: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE roles SET deleted_at = NOW() WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, roleID, tenantID); err != nil {
		return fmt.Errorf("failed to soft-delete role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit force delete: %w", err)
	}

	s.index.notifySync(roleID)
	s.index.notifySync(fallbackID)
	return nil
}
