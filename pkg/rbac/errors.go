package rbac

import "errors"

// Sentinel errors for the role store. Handlers translate these to the HTTP
// error taxonomy; anything else is treated as a storage fault (500, rolled
// back).
var (
	// ErrTenantRequired: roles are never tenant-less; a missing tenant id is a
	// hard precondition failure.
	ErrTenantRequired = errors.New("tenant id is required")

	// ErrRoleNotFound covers both true absence and cross-tenant lookups, so a
	// caller cannot distinguish "exists in another tenant" from "does not exist".
	ErrRoleNotFound = errors.New("role not found")

	// ErrInvalidSlug: slug does not match ^[a-z0-9-]+$.
	ErrInvalidSlug = errors.New("slug must contain only lowercase letters, digits and hyphens")

	// ErrDuplicateSlug: another non-deleted role in the tenant already uses the slug.
	ErrDuplicateSlug = errors.New("slug already in use in this tenant")

	// ErrProtectedRole: the role's slug is reserved and the operation would
	// delete it or strip it.
	ErrProtectedRole = errors.New("protected role cannot be modified this way")

	// ErrRoleInUse: non-forced deletion of a role that still has assigned users.
	ErrRoleInUse = errors.New("role still has assigned users")
)
