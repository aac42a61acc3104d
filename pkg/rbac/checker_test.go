package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectSlug(mock sqlmock.Sqlmock, roleID, tenantID int64, slug string) {
	mock.ExpectQuery("SELECT slug FROM roles").
		WithArgs(roleID, tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"slug"}).AddRow(slug))
}

func expectPermissions(mock sqlmock.Sqlmock, roleID int64, names ...string) {
	rows := sqlmock.NewRows([]string{"permission_name"})
	for _, name := range names {
		rows.AddRow(name)
	}
	mock.ExpectQuery("SELECT permission_name FROM role_permissions").
		WithArgs(roleID).
		WillReturnRows(rows)
}

func TestChecker_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	decision, err := env.checker.Authorize(context.Background(), ActorContext{}, AllOf("view_sales"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestChecker_NoRoleAssigned(t *testing.T) {
	env := newTestEnv(t)

	actor := ActorContext{Authenticated: true, UserID: 1, TenantID: 7}
	decision, err := env.checker.Authorize(context.Background(), actor, AllOf("view_sales"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestChecker_OwnerBypass(t *testing.T) {
	env := newTestEnv(t)
	actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 1, TenantID: 7}

	// No permission lookup at all, even for a name nobody holds.
	expectSlug(env.mock, 1, 7, "owner")
	decision, err := env.checker.Authorize(context.Background(), actor, AllOf("does_not_exist"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	expectSlug(env.mock, 1, 7, "owner")
	decision, err = env.checker.Authorize(context.Background(), actor, RoleIn("admin"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestChecker_RoleNotFoundDenies(t *testing.T) {
	env := newTestEnv(t)
	actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 99, TenantID: 7}

	env.mock.ExpectQuery("SELECT slug FROM roles").
		WithArgs(int64(99), int64(7)).
		WillReturnError(sql.ErrNoRows)

	decision, err := env.checker.Authorize(context.Background(), actor, AllOf("view_sales"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "role not found", decision.Reason)
}

func TestChecker_AllOf(t *testing.T) {
	env := newTestEnv(t)
	actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}
	ctx := context.Background()

	expectSlug(env.mock, 5, 7, "cashier")
	expectPermissions(env.mock, 5, "view_sales", "create_sale")

	decision, err := env.checker.Authorize(ctx, actor, AllOf("view_sales", "create_sale"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// Second check hits the cache; only the slug is re-resolved.
	expectSlug(env.mock, 5, 7, "cashier")
	decision, err = env.checker.Authorize(ctx, actor, AllOf("view_sales", "export_data"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "missing permission export_data", decision.Reason)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestChecker_AnyOf(t *testing.T) {
	env := newTestEnv(t)
	actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}

	expectSlug(env.mock, 5, 7, "cashier")
	expectPermissions(env.mock, 5, "view_sales")

	decision, err := env.checker.Authorize(context.Background(), actor, AnyOf("export_data", "view_sales"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	expectSlug(env.mock, 5, 7, "cashier")
	decision, err = env.checker.Authorize(context.Background(), actor, AnyOf("export_data", "view_logs"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestChecker_RoleIn(t *testing.T) {
	env := newTestEnv(t)
	actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}

	expectSlug(env.mock, 5, 7, "manager")
	decision, err := env.checker.Authorize(context.Background(), actor, RoleIn("admin", "manager"))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	expectSlug(env.mock, 5, 7, "manager")
	decision, err = env.checker.Authorize(context.Background(), actor, RoleIn("admin"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestChecker_StorageFaultFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}

	expectSlug(env.mock, 5, 7, "cashier")
	env.mock.ExpectQuery("SELECT permission_name FROM role_permissions").
		WithArgs(int64(5)).
		WillReturnError(assert.AnError)

	decision, err := env.checker.Authorize(context.Background(), actor, AllOf("view_sales"))
	assert.Error(t, err)
	assert.False(t, decision.Allowed)
}

func TestChecker_CacheInvalidatedOnSync(t *testing.T) {
	env := newTestEnv(t)
	actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}
	ctx := context.Background()

	expectSlug(env.mock, 5, 7, "cashier")
	expectPermissions(env.mock, 5, "view_sales")
	decision, err := env.checker.Authorize(ctx, actor, AllOf("view_sales"))
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// A sync drops the cached set, so the next check reloads it.
	env.mock.ExpectExec("INSERT INTO permissions_catalog").
		WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectBegin()
	env.mock.ExpectExec("UPDATE roles SET permissions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("DELETE FROM role_permissions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("INSERT INTO role_permissions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()
	require.NoError(t, env.index.SyncRole(ctx, 5, 7, []string{"create_sale"}))

	expectSlug(env.mock, 5, 7, "cashier")
	expectPermissions(env.mock, 5, "create_sale")
	decision, err = env.checker.Authorize(ctx, actor, AllOf("view_sales"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestChecker_CacheEntryExpires(t *testing.T) {
	env := newTestEnv(t)
	checker, err := NewChecker(env.store, env.index, 16, 10*time.Millisecond, nil)
	require.NoError(t, err)

	actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}
	ctx := context.Background()

	expectSlug(env.mock, 5, 7, "cashier")
	expectPermissions(env.mock, 5, "view_sales")
	decision, err := checker.Authorize(ctx, actor, AllOf("view_sales"))
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// A revocation written by another process never reaches the in-process
	// sync hooks; expiry forces the re-read that picks it up.
	time.Sleep(20 * time.Millisecond)

	expectSlug(env.mock, 5, 7, "cashier")
	expectPermissions(env.mock, 5, "create_sale")
	decision, err = checker.Authorize(ctx, actor, AllOf("view_sales"))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestChecker_CurrentPermissions(t *testing.T) {
	t.Run("owner sees the whole catalog", func(t *testing.T) {
		env := newTestEnv(t)
		actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 1, TenantID: 7}

		expectSlug(env.mock, 1, 7, "owner")
		names, err := env.checker.CurrentPermissions(context.Background(), actor)
		require.NoError(t, err)
		assert.Contains(t, names, "view_sales")
		assert.Contains(t, names, "create_role")
		assert.Len(t, names, len(env.catalog.All()))
	})

	t.Run("regular role sees its indexed set", func(t *testing.T) {
		env := newTestEnv(t)
		actor := ActorContext{Authenticated: true, UserID: 1, RoleID: 5, TenantID: 7}

		expectSlug(env.mock, 5, 7, "cashier")
		expectPermissions(env.mock, 5, "view_sales", "create_sale")

		names, err := env.checker.CurrentPermissions(context.Background(), actor)
		require.NoError(t, err)
		assert.Equal(t, []string{"create_sale", "view_sales"}, names)
	})

	t.Run("unauthenticated actor has none", func(t *testing.T) {
		env := newTestEnv(t)
		names, err := env.checker.CurrentPermissions(context.Background(), ActorContext{})
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}
