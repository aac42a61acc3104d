// Package tenant manages tenant lifecycle. Provisioning a tenant seeds the
// reserved roles and the owner account in one transaction, so a fresh tenant
// is immediately usable and a mid-failure leaves nothing behind.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bizkhata/bizkhata/pkg/audit"
	"github.com/bizkhata/bizkhata/pkg/observability"
	"github.com/bizkhata/bizkhata/pkg/permissions"
	"github.com/bizkhata/bizkhata/pkg/rbac"
	"github.com/bizkhata/bizkhata/pkg/users"
)

// ErrTenantNotFound is returned for missing or deleted tenants.
var ErrTenantNotFound = errors.New("tenant not found")

// Tenant is one business account. All roles, users and areas hang off it.
type Tenant struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Service provisions and looks up tenants.
type Service struct {
	db      *sql.DB
	roles   *rbac.Store
	users   *users.Store
	catalog *permissions.Catalog
}

// NewService creates the tenant service.
func NewService(db *sql.DB, roles *rbac.Store, userStore *users.Store, catalog *permissions.Catalog) *Service {
	return &Service{db: db, roles: roles, users: userStore, catalog: catalog}
}

// reserved role display names, in seed order.
var seedRoles = []struct {
	slug string
	name string
	desc string
}{
	{rbac.SlugOwner, "Owner", "Business owner with full access"},
	{rbac.SlugAdmin, "Admin", "Administrator"},
	{rbac.SlugManager, "Manager", "Manager"},
	{rbac.SlugUser, "User", "Default user role"},
}

// ProvisionParams carries everything needed to open a new tenant.
type ProvisionParams struct {
	BusinessName  string
	Phone         string
	OwnerName     string
	OwnerEmail    string
	OwnerPassword string
}

// Provision creates the tenant row, seeds the four reserved roles with their
// default permission sets and creates the owner account on the owner role.
// Everything runs in one transaction; a failed step leaves no orphaned tenant.
func (s *Service) Provision(ctx context.Context, params ProvisionParams) (*Tenant, *users.User, error) {
	log := observability.FromContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tenant := &Tenant{Name: params.BusinessName, Phone: params.Phone}
	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenants (name, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id
	`, tenant.Name, tenant.Phone, now).Scan(&tenant.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	defaults := permissions.DefaultRolePermissions(s.catalog)
	var ownerRoleID int64
	for _, seed := range seedRoles {
		role := &rbac.Role{
			TenantID:    tenant.ID,
			Name:        seed.name,
			Slug:        seed.slug,
			Description: seed.desc,
			Permissions: defaults[seed.slug],
		}
		if err := s.roles.CreateRoleTx(ctx, tx, role); err != nil {
			return nil, nil, fmt.Errorf("failed to seed role %s: %w", seed.slug, err)
		}
		if seed.slug == rbac.SlugOwner {
			ownerRoleID = role.ID
		}
	}

	owner := &users.User{
		TenantID: tenant.ID,
		RoleID:   &ownerRoleID,
		Name:     params.OwnerName,
		Email:    params.OwnerEmail,
		Phone:    params.Phone,
	}
	if err := s.users.CreateTx(ctx, tx, owner, params.OwnerPassword); err != nil {
		return nil, nil, fmt.Errorf("failed to create owner account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit tenant provision: %w", err)
	}

	if err := audit.FromContext(ctx).LogMutation(ctx, audit.EventTypeTenantProvision,
		&owner.ID, &tenant.ID, audit.ResourceTypeTenant,
		strconv.FormatInt(tenant.ID, 10), "tenant provisioned"); err != nil {
		log.WithError(err).Warn("could not record tenant provision audit event")
	}

	log.WithFields(map[string]interface{}{
		"tenant_id": tenant.ID,
		"owner_id":  owner.ID,
	}).Info("tenant provisioned")
	return tenant, owner, nil
}

// Get retrieves a non-deleted tenant.
func (s *Service) Get(ctx context.Context, tenantID int64) (*Tenant, error) {
	var tenant Tenant
	var phone sql.NullString
	var deletedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, created_at, updated_at, deleted_at
		FROM tenants
		WHERE id = $1 AND deleted_at IS NULL
	`, tenantID).Scan(&tenant.ID, &tenant.Name, &phone, &tenant.CreatedAt, &tenant.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	tenant.Phone = phone.String
	if deletedAt.Valid {
		tenant.DeletedAt = &deletedAt.Time
	}
	return &tenant, nil
}
