package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/bizkhata/bizkhata/pkg/observability"
	"github.com/bizkhata/bizkhata/pkg/permissions"
)

// Index maintains the normalized role_permissions table, the authoritative
// source of an actor's effective permission set at decision time.
type Index struct {
	db      *sql.DB
	catalog *permissions.Catalog

	// onSync hooks are invoked after a role's rows are replaced, so cached
	// permission sets can be dropped.
	onSync []func(roleID int64)
}

// NewIndex creates a role-permission index over db.
func NewIndex(db *sql.DB, catalog *permissions.Catalog) *Index {
	return &Index{db: db, catalog: catalog}
}

// OnSync registers a hook called after every successful role sync.
func (ix *Index) OnSync(fn func(roleID int64)) {
	ix.onSync = append(ix.onSync, fn)
}

func (ix *Index) notifySync(roleID int64) {
	for _, fn := range ix.onSync {
		fn(roleID)
	}
}

// SyncStats summarizes a reconciliation run.
type SyncStats struct {
	RolesProcessed int
	RowsInserted   int
}

// DecodePermissionList defensively decodes a stored permission list. The
// column normally holds a JSON array of strings, but legacy rows may hold a
// JSON-encoded string containing the array. Decode failure degrades to an
// empty list rather than failing the caller.
func DecodePermissionList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		return names
	}

	// Legacy shape: a JSON string whose contents are the JSON array.
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &names); err == nil {
			return names
		}
	}

	return nil
}

// normalizeNames trims, drops empties and deduplicates while preserving order.
func normalizeNames(desired []string) []string {
	seen := make(map[string]bool, len(desired))
	out := make([]string, 0, len(desired))
	for _, name := range desired {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// ensureCatalog additively registers names in the permissions_catalog table
// and the in-process catalog. Failures here are logged and tolerated; the
// caller proceeds with whatever subset exists in the catalog.
func (ix *Index) ensureCatalog(ctx context.Context, names []string) {
	for _, name := range names {
		ix.catalog.Register(permissions.Permission{Name: name, Label: name})
	}

	if len(names) == 0 {
		return
	}

	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO permissions_catalog (name, description)
		SELECT unnest($1::text[]), 'Auto-added permission'
		ON CONFLICT (name) DO NOTHING
	`, pq.Array(names))
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("could not register permissions in catalog")
	}
}

// replacePermissionsTx deletes all (role, *) rows and re-inserts the subset of
// desired names present in permissions_catalog. Full replace, not a diff.
// Returns the number of rows inserted.
func replacePermissionsTx(ctx context.Context, tx *sql.Tx, roleID, tenantID int64, names []string) (int, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return 0, fmt.Errorf("failed to clear role permissions: %w", err)
	}

	if len(names) == 0 {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_name, tenant_id)
		SELECT $1, pc.name, $2
		FROM permissions_catalog pc
		WHERE pc.name = ANY($3::text[])
	`, roleID, tenantID, pq.Array(names))
	if err != nil {
		return 0, fmt.Errorf("failed to insert role permissions: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count inserted permissions: %w", err)
	}
	return int(inserted), nil
}

// SyncRole replaces the normalized rows for a role and rewrites the role's
// denormalized permission column as one atomic unit. A missing tenant id is a
// hard precondition failure.
func (ix *Index) SyncRole(ctx context.Context, roleID, tenantID int64, desired []string) error {
	if tenantID == 0 {
		return ErrTenantRequired
	}

	names := normalizeNames(desired)
	ix.ensureCatalog(ctx, names)

	permissionsJSON, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin sync transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE roles SET permissions = $1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3 AND deleted_at IS NULL
	`, string(permissionsJSON), roleID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update role permission column: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check role update: %w", err)
	}
	if affected == 0 {
		return ErrRoleNotFound
	}

	if _, err := replacePermissionsTx(ctx, tx, roleID, tenantID, names); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync: %w", err)
	}

	ix.notifySync(roleID)
	return nil
}

// PermissionsForRole loads the effective permission set for a role from the
// normalized table. An empty set is a normal result, not an error.
func (ix *Index) PermissionsForRole(ctx context.Context, roleID int64) (map[string]struct{}, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT permission_name FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		set[name] = struct{}{}
	}
	return set, rows.Err()
}

// SyncAll re-derives every non-deleted role's index rows from the role record.
// Used for backfill/repair after data drift; idempotent, and safe against a
// live system because each role syncs in its own transaction.
func (ix *Index) SyncAll(ctx context.Context) (SyncStats, error) {
	log := observability.FromContext(ctx)

	rows, err := ix.db.QueryContext(ctx, `
		SELECT id, tenant_id, slug, permissions
		FROM roles
		WHERE deleted_at IS NULL
		ORDER BY id
	`)
	if err != nil {
		return SyncStats{}, fmt.Errorf("failed to list roles for sync: %w", err)
	}
	defer rows.Close()

	type pending struct {
		id       int64
		tenantID int64
		slug     string
		names    []string
	}
	var work []pending
	for rows.Next() {
		var p pending
		var raw []byte
		if err := rows.Scan(&p.id, &p.tenantID, &p.slug, &raw); err != nil {
			return SyncStats{}, fmt.Errorf("failed to scan role for sync: %w", err)
		}
		p.names = normalizeNames(DecodePermissionList(raw))
		work = append(work, p)
	}
	if err := rows.Err(); err != nil {
		return SyncStats{}, fmt.Errorf("failed reading roles for sync: %w", err)
	}

	var stats SyncStats
	for _, p := range work {
		ix.ensureCatalog(ctx, p.names)

		tx, err := ix.db.BeginTx(ctx, nil)
		if err != nil {
			return stats, fmt.Errorf("failed to begin sync transaction: %w", err)
		}
		inserted, err := replacePermissionsTx(ctx, tx, p.id, p.tenantID, p.names)
		if err != nil {
			tx.Rollback()
			return stats, fmt.Errorf("sync failed for role %d (%s): %w", p.id, p.slug, err)
		}
		if err := tx.Commit(); err != nil {
			return stats, fmt.Errorf("failed to commit sync for role %d: %w", p.id, err)
		}

		ix.notifySync(p.id)
		stats.RolesProcessed++
		stats.RowsInserted += inserted
		log.WithFields(map[string]interface{}{
			"role_id": p.id,
			"slug":    p.slug,
			"rows":    inserted,
		}).Debug("role permissions synced")
	}

	return stats, nil
}
