// Package rbac implements the role-based access control core: tenant-scoped
// roles, the normalized role-permission index, and the authorization decision
// engine consumed by every protected route.
//
// Roles carry their permission list twice: as a JSON column on the roles row
// (a denormalized cache) and as normalized rows in role_permissions. The
// normalized table is authoritative at decision time; the JSON column is only
// ever written, in the same transaction as the index, never read by the
// checker. SyncAll re-derives the index from the JSON column for
// backfill/repair and is safe to run against a live system.
//
// The decision engine is read-only and fail-closed: a storage fault during a
// check yields a denial alongside the error, never an allow.
package rbac
