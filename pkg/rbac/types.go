package rbac

import (
	"regexp"
	"time"
)

// Reserved role slugs seeded at tenant creation.
const (
	SlugOwner   = "owner"
	SlugAdmin   = "admin"
	SlugManager = "manager"
	SlugUser    = "user"
)

// protectedSlugs can never be soft-deleted, via either deletion path.
var protectedSlugs = map[string]bool{
	SlugOwner: true,
	SlugAdmin: true,
	SlugUser:  true,
}

// IsProtectedSlug reports whether slug names a protected role.
func IsProtectedSlug(slug string) bool {
	return protectedSlugs[slug]
}

// slugPattern is the only accepted slug shape: lowercase alphanumerics and hyphens.
var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidSlug reports whether slug matches the accepted format.
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// Role is a named, tenant-scoped bundle of permissions.
type Role struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Description string     `json:"description"`
	Permissions []string   `json:"permissions"`
	UsersCount  int64      `json:"users_count"`
	CreatedBy   *int64     `json:"created_by,omitempty"`
	UpdatedBy   *int64     `json:"updated_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// ActorContext is the per-request actor state every authorization decision
// consumes. It is built by the session middleware and threaded explicitly;
// nothing in this package reads ambient session state.
type ActorContext struct {
	Authenticated bool  `json:"authenticated"`
	UserID        int64 `json:"user_id"`
	RoleID        int64 `json:"role_id"`
	TenantID      int64 `json:"tenant_id"`
}

// RequirementKind selects the evaluation semantics of a Requirement.
type RequirementKind string

const (
	// KindAllOf requires every listed permission.
	KindAllOf RequirementKind = "all_of"
	// KindAnyOf requires at least one listed permission.
	KindAnyOf RequirementKind = "any_of"
	// KindRoleIn requires the actor's role slug to be one of the listed slugs.
	// Used sparingly as a coarse gate, orthogonal to permission checks.
	KindRoleIn RequirementKind = "role_in"
)

// Requirement is a capability demand evaluated against an actor.
type Requirement struct {
	Kind        RequirementKind `json:"kind"`
	Permissions []string        `json:"permissions,omitempty"`
	Slugs       []string        `json:"slugs,omitempty"`
}

// AllOf builds a requirement satisfied only when the actor holds every listed permission.
func AllOf(permissions ...string) Requirement {
	return Requirement{Kind: KindAllOf, Permissions: permissions}
}

// AnyOf builds a requirement satisfied when the actor holds at least one listed permission.
func AnyOf(permissions ...string) Requirement {
	return Requirement{Kind: KindAnyOf, Permissions: permissions}
}

// RoleIn builds a requirement satisfied when the actor's role slug is listed.
func RoleIn(slugs ...string) Requirement {
	return Requirement{Kind: KindRoleIn, Slugs: slugs}
}

// Decision is the outcome of an authorization check. A denial is a normal
// business outcome, not a fault; storage faults are reported separately as
// errors (and still deny).
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
