package users

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func nowStamp() time.Time { return time.Now() }

var userColumnNames = []string{
	"id", "tenant_id", "role_id", "name", "email", "phone",
	"password_hash", "last_login_at", "created_at", "updated_at", "slug",
}

func TestStore_Create(t *testing.T) {
	t.Run("duplicate email in tenant", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT id FROM users").
			WithArgs("rahim@example.com", int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))

		err := store.Create(context.Background(), &User{
			TenantID: 7, Name: "Rahim", Email: "rahim@example.com",
		}, "secret123")
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})

	t.Run("role must belong to the tenant", func(t *testing.T) {
		store, mock := newMockStore(t)
		roleID := int64(5)

		mock.ExpectQuery("SELECT id FROM users").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT id FROM roles").
			WithArgs(roleID, int64(7)).
			WillReturnError(sql.ErrNoRows)

		err := store.Create(context.Background(), &User{
			TenantID: 7, RoleID: &roleID, Name: "Rahim", Email: "rahim@example.com",
		}, "secret123")
		assert.ErrorIs(t, err, ErrRoleNotInTenant)
	})

	t.Run("success stores a bcrypt hash", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT id FROM users").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO users").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

		user := &User{TenantID: 7, Name: "Rahim", Email: "rahim@example.com"}
		require.NoError(t, store.Create(context.Background(), user, "secret123"))
		assert.Equal(t, int64(11), user.ID)
		assert.NoError(t,
			bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret123")))
	})
}

func TestStore_Authenticate(t *testing.T) {
	hash, err := HashPassword("secret123")
	require.NoError(t, err)

	userRows := func() *sqlmock.Rows {
		return sqlmock.NewRows(userColumnNames).
			AddRow(11, 7, 5, "Rahim", "rahim@example.com", nil, hash, nil,
				nowStamp(), nowStamp(), "cashier")
	}

	t.Run("valid credentials", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("FROM users u").
			WithArgs("rahim@example.com").
			WillReturnRows(userRows())

		user, err := store.Authenticate(context.Background(), "rahim@example.com", "secret123")
		require.NoError(t, err)
		assert.Equal(t, int64(11), user.ID)
		assert.Equal(t, "cashier", user.RoleSlug)
	})

	t.Run("wrong password", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("FROM users u").
			WithArgs("rahim@example.com").
			WillReturnRows(userRows())

		_, err := store.Authenticate(context.Background(), "rahim@example.com", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email reads the same as wrong password", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("FROM users u").
			WithArgs("ghost@example.com").
			WillReturnError(sql.ErrNoRows)

		_, err := store.Authenticate(context.Background(), "ghost@example.com", "secret123")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestStore_AssignRole(t *testing.T) {
	t.Run("cross-tenant role is rejected", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT id FROM roles").
			WithArgs(int64(5), int64(7)).
			WillReturnError(sql.ErrNoRows)

		err := store.AssignRole(context.Background(), 11, 5, 7)
		assert.ErrorIs(t, err, ErrRoleNotInTenant)
	})

	t.Run("success", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT id FROM roles").
			WithArgs(int64(5), int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
		mock.ExpectExec("UPDATE users SET role_id").
			WithArgs(int64(5), int64(11), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.AssignRole(context.Background(), 11, 5, 7))
	})

	t.Run("deleted user reads as not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT id FROM roles").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
		mock.ExpectExec("UPDATE users SET role_id").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.AssignRole(context.Background(), 11, 5, 7)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestStore_TouchLastLogin(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET last_login_at").
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, store.TouchLastLogin(context.Background(), 11))
}

func TestStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET deleted_at").
		WithArgs(int64(11), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, store.Delete(context.Background(), 11, 7))
}
