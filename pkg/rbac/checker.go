package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bizkhata/bizkhata/pkg/observability"
)

const defaultCacheTTL = 5 * time.Minute

// cachedSet is one cached permission set. The expiry bounds how long a grant
// revoked by another process (the sync CLI) can stay effective here.
type cachedSet struct {
	permissions map[string]struct{}
	expiresAt   time.Time
}

// Checker is the read-only authorization decision engine. It never mutates
// role state; every decision is derived from the normalized permission index,
// with a small LRU in front of it.
type Checker struct {
	store    *Store
	index    *Index
	cache    *lru.Cache[int64, cachedSet]
	cacheTTL time.Duration
	metrics  *observability.Metrics
}

// NewChecker builds a decision engine over the store and index. The checker
// subscribes to index syncs so cached permission sets never outlive an
// in-process role update; cacheTTL caps staleness from out-of-process syncs.
// metrics may be nil.
func NewChecker(store *Store, index *Index, cacheSize int, cacheTTL time.Duration, metrics *observability.Metrics) (*Checker, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	cache, err := lru.New[int64, cachedSet](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission cache: %w", err)
	}

	c := &Checker{store: store, index: index, cache: cache, cacheTTL: cacheTTL, metrics: metrics}
	index.OnSync(c.InvalidateRole)
	return c, nil
}

// InvalidateRole drops the cached permission set for a role.
func (c *Checker) InvalidateRole(roleID int64) {
	c.cache.Remove(roleID)
}

func (c *Checker) permissionSet(ctx context.Context, roleID int64) (map[string]struct{}, error) {
	if entry, ok := c.cache.Get(roleID); ok && entry.expiresAt.After(time.Now()) {
		if c.metrics != nil {
			c.metrics.AuthzCacheHitsTotal.Inc()
		}
		return entry.permissions, nil
	}
	if c.metrics != nil {
		c.metrics.AuthzCacheMissesTotal.Inc()
	}

	set, err := c.index.PermissionsForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(roleID, cachedSet{permissions: set, expiresAt: time.Now().Add(c.cacheTTL)})
	return set, nil
}

func deny(reason string) *Decision {
	return &Decision{Allowed: false, Reason: reason, CheckedAt: time.Now()}
}

func allow(reason string) *Decision {
	return &Decision{Allowed: true, Reason: reason, CheckedAt: time.Now()}
}

// Authorize evaluates a requirement against an actor. A denial is a normal
// outcome carried in the decision; a non-nil error means a storage fault, and
// the accompanying decision is always a denial (fail closed). Owner-slug
// actors bypass permission evaluation entirely.
func (c *Checker) Authorize(ctx context.Context, actor ActorContext, req Requirement) (*Decision, error) {
	start := time.Now()
	decision, err := c.authorize(ctx, actor, req)
	if c.metrics != nil {
		outcome := "deny"
		switch {
		case err != nil:
			outcome = "error"
		case decision.Allowed:
			outcome = "allow"
		}
		c.metrics.ObserveAuthzDecision(string(req.Kind), outcome, time.Since(start))
	}
	return decision, err
}

func (c *Checker) authorize(ctx context.Context, actor ActorContext, req Requirement) (*Decision, error) {
	if !actor.Authenticated {
		return deny("not authenticated"), nil
	}
	if actor.RoleID == 0 || actor.TenantID == 0 {
		return deny("no role assigned"), nil
	}

	slug, err := c.store.RoleSlug(ctx, actor.RoleID, actor.TenantID)
	if errors.Is(err, ErrRoleNotFound) {
		// Covers deleted roles and cross-tenant role ids alike.
		return deny("role not found"), nil
	}
	if err != nil {
		return deny("storage fault"), err
	}

	if slug == SlugOwner {
		return allow("owner"), nil
	}

	switch req.Kind {
	case KindRoleIn:
		for _, s := range req.Slugs {
			if s == slug {
				return allow("role " + slug), nil
			}
		}
		return deny("role " + slug + " not permitted"), nil

	case KindAllOf, KindAnyOf:
		set, err := c.permissionSet(ctx, actor.RoleID)
		if err != nil {
			return deny("storage fault"), err
		}

		if req.Kind == KindAnyOf {
			for _, name := range req.Permissions {
				if _, ok := set[name]; ok {
					return allow("permission " + name), nil
				}
			}
			return deny("none of the required permissions held"), nil
		}

		for _, name := range req.Permissions {
			if _, ok := set[name]; !ok {
				return deny("missing permission " + name), nil
			}
		}
		return allow("all permissions held"), nil

	default:
		return deny("unknown requirement kind"), fmt.Errorf("unknown requirement kind %q", req.Kind)
	}
}

// HasPermission is a convenience single-permission check.
func (c *Checker) HasPermission(ctx context.Context, actor ActorContext, name string) (bool, error) {
	decision, err := c.Authorize(ctx, actor, AllOf(name))
	return decision.Allowed, err
}

// CurrentPermissions returns the actor's effective permission names, sorted.
// Owner actors report every catalog permission.
func (c *Checker) CurrentPermissions(ctx context.Context, actor ActorContext) ([]string, error) {
	if !actor.Authenticated || actor.RoleID == 0 || actor.TenantID == 0 {
		return []string{}, nil
	}

	slug, err := c.store.RoleSlug(ctx, actor.RoleID, actor.TenantID)
	if errors.Is(err, ErrRoleNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	if slug == SlugOwner {
		all := c.store.catalog.AllNames()
		names := make([]string, 0, len(all))
		for name := range all {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}

	set, err := c.permissionSet(ctx, actor.RoleID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
