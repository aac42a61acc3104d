package rbac

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePermissionList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"plain array", `["view_sales","create_sale"]`, []string{"view_sales", "create_sale"}},
		{"legacy string-wrapped array", `"[\"view_sales\"]"`, []string{"view_sales"}},
		{"empty array", `[]`, []string{}},
		{"garbage degrades to nil", `{not json`, nil},
		{"empty input", ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodePermissionList([]byte(tt.raw)))
		})
	}
}

func TestNormalizeNames(t *testing.T) {
	got := normalizeNames([]string{" view_sales", "view_sales", "", "create_sale ", "view_sales"})
	assert.Equal(t, []string{"view_sales", "create_sale"}, got)
}

func TestIndex_SyncRole(t *testing.T) {
	t.Run("requires a tenant", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.index.SyncRole(context.Background(), 5, 0, []string{"view_sales"})
		assert.ErrorIs(t, err, ErrTenantRequired)
	})

	t.Run("replaces rows and rewrites the column atomically", func(t *testing.T) {
		env := newTestEnv(t)

		env.mock.ExpectExec("INSERT INTO permissions_catalog").
			WillReturnResult(sqlmock.NewResult(0, 0))
		env.mock.ExpectBegin()
		env.mock.ExpectExec("UPDATE roles SET permissions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec("DELETE FROM role_permissions").
			WithArgs(int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 3))
		env.mock.ExpectExec("INSERT INTO role_permissions").
			WillReturnResult(sqlmock.NewResult(0, 2))
		env.mock.ExpectCommit()

		var synced []int64
		env.index.OnSync(func(roleID int64) { synced = append(synced, roleID) })

		err := env.index.SyncRole(context.Background(), 5, 7, []string{"view_sales", "create_sale"})
		require.NoError(t, err)
		assert.Equal(t, []int64{5}, synced)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("deleted role reports not found and rolls back", func(t *testing.T) {
		env := newTestEnv(t)

		env.mock.ExpectExec("INSERT INTO permissions_catalog").
			WillReturnResult(sqlmock.NewResult(0, 0))
		env.mock.ExpectBegin()
		env.mock.ExpectExec("UPDATE roles SET permissions").
			WillReturnResult(sqlmock.NewResult(0, 0))
		env.mock.ExpectRollback()

		var synced []int64
		env.index.OnSync(func(roleID int64) { synced = append(synced, roleID) })

		err := env.index.SyncRole(context.Background(), 5, 7, []string{"view_sales"})
		assert.ErrorIs(t, err, ErrRoleNotFound)
		assert.Empty(t, synced)
	})

	t.Run("catalog registration failure is tolerated", func(t *testing.T) {
		env := newTestEnv(t)

		env.mock.ExpectExec("INSERT INTO permissions_catalog").
			WillReturnError(assert.AnError)
		env.mock.ExpectBegin()
		env.mock.ExpectExec("UPDATE roles SET permissions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectExec("DELETE FROM role_permissions").
			WillReturnResult(sqlmock.NewResult(0, 0))
		env.mock.ExpectExec("INSERT INTO role_permissions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectCommit()

		err := env.index.SyncRole(context.Background(), 5, 7, []string{"view_sales"})
		assert.NoError(t, err)
	})
}

func TestIndex_PermissionsForRole(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT permission_name FROM role_permissions").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"permission_name"}).
			AddRow("view_sales").AddRow("create_sale"))

	set, err := env.index.PermissionsForRole(context.Background(), 5)
	require.NoError(t, err)
	assert.Contains(t, set, "view_sales")
	assert.Contains(t, set, "create_sale")
	assert.Len(t, set, 2)
}

func TestIndex_SyncAll(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT id, tenant_id, slug, permissions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "slug", "permissions"}).
			AddRow(int64(1), int64(7), "owner", []byte(`["view_profile","create_role"]`)).
			AddRow(int64(2), int64(7), "cashier", []byte(`"[\"view_sales\"]"`)))

	// Role 1
	env.mock.ExpectExec("INSERT INTO permissions_catalog").
		WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectBegin()
	env.mock.ExpectExec("DELETE FROM role_permissions").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	env.mock.ExpectExec("INSERT INTO role_permissions").
		WillReturnResult(sqlmock.NewResult(0, 2))
	env.mock.ExpectCommit()

	// Role 2, legacy column shape
	env.mock.ExpectExec("INSERT INTO permissions_catalog").
		WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectBegin()
	env.mock.ExpectExec("DELETE FROM role_permissions").
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("INSERT INTO role_permissions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	stats, err := env.index.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RolesProcessed)
	assert.Equal(t, 3, stats.RowsInserted)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}
