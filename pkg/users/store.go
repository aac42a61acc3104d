// Package users manages tenant-scoped user accounts: creation, credential
// verification and role assignment.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors translated by handlers into the HTTP error taxonomy.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateEmail     = errors.New("email already in use in this tenant")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrRoleNotInTenant    = errors.New("role does not belong to the user's tenant")
)

// User is a tenant-scoped account. PasswordHash never serializes.
type User struct {
	ID           int64      `json:"id"`
	TenantID     int64      `json:"tenant_id"`
	RoleID       *int64     `json:"role_id,omitempty"`
	RoleSlug     string     `json:"role_slug,omitempty"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	PasswordHash string     `json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Store persists users.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx, so account creation can
// join a caller-owned transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// HashPassword derives a bcrypt hash for storage.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Create inserts a user. The password is hashed here; callers pass plaintext.
func (s *Store) Create(ctx context.Context, user *User, password string) error {
	return s.create(ctx, s.db, user, password)
}

// CreateTx inserts a user inside a caller-owned transaction. The caller
// commits.
func (s *Store) CreateTx(ctx context.Context, tx *sql.Tx, user *User, password string) error {
	return s.create(ctx, tx, user, password)
}

func (s *Store) create(ctx context.Context, q querier, user *User, password string) error {
	var existing int64
	err := q.QueryRowContext(ctx, `
		SELECT id FROM users
		WHERE email = $1 AND tenant_id = $2 AND deleted_at IS NULL
		LIMIT 1
	`, user.Email, user.TenantID).Scan(&existing)
	if err == nil {
		return ErrDuplicateEmail
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check email uniqueness: %w", err)
	}

	if user.RoleID != nil {
		if err := s.roleInTenant(ctx, q, *user.RoleID, user.TenantID); err != nil {
			return err
		}
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash

	now := time.Now()
	err = q.QueryRowContext(ctx, `
		INSERT INTO users (tenant_id, role_id, name, email, phone, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id
	`, user.TenantID, user.RoleID, user.Name, user.Email, user.Phone, user.PasswordHash, now).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (s *Store) roleInTenant(ctx context.Context, q querier, roleID, tenantID int64) error {
	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT id FROM roles
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, roleID, tenantID).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrRoleNotInTenant
	}
	if err != nil {
		return fmt.Errorf("failed to check role tenant: %w", err)
	}
	return nil
}

const userColumns = `u.id, u.tenant_id, u.role_id, u.name, u.email, u.phone, u.password_hash, u.last_login_at, u.created_at, u.updated_at`

func scanUser(scanner interface{ Scan(dest ...interface{}) error }) (*User, error) {
	var user User
	var roleID sql.NullInt64
	var phone sql.NullString
	var lastLogin sql.NullTime
	var roleSlug sql.NullString

	err := scanner.Scan(
		&user.ID, &user.TenantID, &roleID, &user.Name, &user.Email, &phone,
		&user.PasswordHash, &lastLogin, &user.CreatedAt, &user.UpdatedAt, &roleSlug,
	)
	if err != nil {
		return nil, err
	}
	if roleID.Valid {
		user.RoleID = &roleID.Int64
	}
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	user.Phone = phone.String
	user.RoleSlug = roleSlug.String
	return &user, nil
}

// Get retrieves a non-deleted user by id within a tenant.
func (s *Store) Get(ctx context.Context, userID, tenantID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`, r.slug
		FROM users u
		LEFT JOIN roles r ON r.id = u.role_id AND r.deleted_at IS NULL
		WHERE u.id = $1 AND u.tenant_id = $2 AND u.deleted_at IS NULL
	`, userID, tenantID)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByEmail looks a user up by email alone, for login before any tenant is
// known. The newest account wins if the address exists in several tenants.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`, r.slug
		FROM users u
		LEFT JOIN roles r ON r.id = u.role_id AND r.deleted_at IS NULL
		WHERE u.email = $1 AND u.deleted_at IS NULL
		ORDER BY u.created_at DESC
		LIMIT 1
	`, email)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// Authenticate verifies email/password and returns the account. A wrong
// password and an unknown email are indistinguishable to the caller.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// TouchLastLogin stamps the account's last successful login time.
func (s *Store) TouchLastLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = NOW() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to stamp last login: %w", err)
	}
	return nil
}

// List returns a tenant's non-deleted users with their role slugs.
func (s *Store) List(ctx context.Context, tenantID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`, r.slug
		FROM users u
		LEFT JOIN roles r ON r.id = u.role_id AND r.deleted_at IS NULL
		WHERE u.tenant_id = $1 AND u.deleted_at IS NULL
		ORDER BY u.created_at ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// Update rewrites mutable profile fields.
func (s *Store) Update(ctx context.Context, user *User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET name = $1, phone = $2, updated_at = NOW()
		WHERE id = $3 AND tenant_id = $4 AND deleted_at IS NULL
	`, user.Name, user.Phone, user.ID, user.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check user update: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AssignRole points a user at a role in the same tenant.
func (s *Store) AssignRole(ctx context.Context, userID, roleID, tenantID int64) error {
	if err := s.roleInTenant(ctx, s.db, roleID, tenantID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET role_id = $1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3 AND deleted_at IS NULL
	`, roleID, userID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check role assignment: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete soft-deletes a user.
func (s *Store) Delete(ctx context.Context, userID, tenantID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET deleted_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, userID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check user delete: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}
