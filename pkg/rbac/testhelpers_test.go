package rbac

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/bizkhata/bizkhata/pkg/permissions"
)

// testEnv bundles the package under a mocked database.
type testEnv struct {
	db      *sql.DB
	mock    sqlmock.Sqlmock
	catalog *permissions.Catalog
	index   *Index
	store   *Store
	checker *Checker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	catalog := permissions.NewCatalog()
	index := NewIndex(db, catalog)
	store := NewStore(db, catalog, index)
	checker, err := NewChecker(store, index, 16, time.Minute, nil)
	require.NoError(t, err)

	return &testEnv{db: db, mock: mock, catalog: catalog, index: index, store: store, checker: checker}
}

var roleRowColumns = []string{
	"id", "tenant_id", "name", "slug", "description", "permissions",
	"created_by", "updated_by", "created_at", "updated_at", "deleted_at",
}

func roleRow(id, tenantID int64, name, slug, permissionsJSON string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(roleRowColumns).
		AddRow(id, tenantID, name, slug, "", []byte(permissionsJSON), nil, nil, now, now, nil)
}

func nowStamp() time.Time { return time.Now() }
