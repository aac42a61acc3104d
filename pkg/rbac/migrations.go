package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bizkhata/bizkhata/pkg/observability"
)

// Migration is one versioned schema step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the full schema in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					phone VARCHAR(32),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(100) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					permissions JSONB NOT NULL DEFAULT '[]',
					created_by BIGINT,
					updated_by BIGINT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP
				);

				CREATE INDEX idx_roles_tenant_id ON roles(tenant_id);
				CREATE UNIQUE INDEX idx_roles_tenant_slug_live
					ON roles(tenant_id, slug) WHERE deleted_at IS NULL;
			`,
		},
		{
			Version:     3,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					role_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
					name VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL,
					phone VARCHAR(32),
					password_hash VARCHAR(255) NOT NULL,
					last_login_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP
				);

				CREATE INDEX idx_users_tenant_id ON users(tenant_id);
				CREATE INDEX idx_users_role_id ON users(role_id);
				CREATE UNIQUE INDEX idx_users_tenant_email_live
					ON users(tenant_id, email) WHERE deleted_at IS NULL;
			`,
		},
		{
			Version:     4,
			Description: "Create permission catalog and role_permissions index",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions_catalog (
					name VARCHAR(100) PRIMARY KEY,
					description TEXT NOT NULL DEFAULT '',
					group_name VARCHAR(100) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_name VARCHAR(100) NOT NULL REFERENCES permissions_catalog(name) ON DELETE CASCADE,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_name)
				);

				CREATE INDEX idx_role_permissions_role_id ON role_permissions(role_id);
				CREATE INDEX idx_role_permissions_tenant_id ON role_permissions(tenant_id);
			`,
		},
		{
			Version:     5,
			Description: "Create areas, user assignments and area-level permissions",
			SQL: `
				CREATE TABLE IF NOT EXISTS areas (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					parent_id BIGINT REFERENCES areas(id) ON DELETE SET NULL,
					name VARCHAR(255) NOT NULL,
					name_bn VARCHAR(255) NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					code VARCHAR(100) NOT NULL,
					region VARCHAR(100) NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP
				);

				CREATE INDEX idx_areas_tenant_id ON areas(tenant_id);
				CREATE INDEX idx_areas_parent_id ON areas(parent_id);
				CREATE UNIQUE INDEX idx_areas_tenant_code_live
					ON areas(tenant_id, code) WHERE deleted_at IS NULL;

				CREATE TABLE IF NOT EXISTS user_areas (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					area_id BIGINT NOT NULL REFERENCES areas(id) ON DELETE CASCADE,
					assigned_by BIGINT,
					assigned_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE (user_id, area_id)
				);

				CREATE INDEX idx_user_areas_area_id ON user_areas(area_id);

				CREATE TABLE IF NOT EXISTS area_permissions (
					id BIGSERIAL PRIMARY KEY,
					area_id BIGINT NOT NULL REFERENCES areas(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					can_view BOOLEAN NOT NULL DEFAULT FALSE,
					can_create BOOLEAN NOT NULL DEFAULT FALSE,
					can_edit BOOLEAN NOT NULL DEFAULT FALSE,
					can_delete BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE (area_id, role_id)
				);

				CREATE INDEX idx_area_permissions_role_id ON area_permissions(role_id);
			`,
		},
		{
			Version:     6,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					user_id BIGINT,
					tenant_id BIGINT,
					resource_type VARCHAR(50),
					resource_id VARCHAR(255),
					ip_address VARCHAR(45),
					user_agent TEXT,
					request_id VARCHAR(100),
					method VARCHAR(10),
					path TEXT,
					message TEXT,
					metadata JSONB,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
				CREATE INDEX idx_audit_logs_event_type ON audit_logs(event_type);
				CREATE INDEX idx_audit_logs_tenant_id ON audit_logs(tenant_id);
				CREATE INDEX idx_audit_logs_user_id ON audit_logs(user_id);
			`,
		},
	}
}

// RunMigrations applies every pending migration, each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	log := observability.FromContext(ctx)

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed reading applied migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("migration applied")
	}

	return nil
}
