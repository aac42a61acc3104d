package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Builtins(t *testing.T) {
	c := NewCatalog()

	assert.True(t, c.IsValid("view_profile"))
	assert.True(t, c.IsValid("create_role"))
	assert.True(t, c.IsValid("assign_area"))
	assert.False(t, c.IsValid("launch_rockets"))

	all := c.All()
	assert.NotEmpty(t, all)
	assert.Len(t, c.AllNames(), len(all))
}

func TestCatalog_Register(t *testing.T) {
	c := NewCatalog()

	added := c.Register(Permission{Name: "view_dashboards"})
	assert.True(t, added)
	assert.True(t, c.IsValid("view_dashboards"))

	// Defaults fill in for label and group.
	p, ok := c.Get("view_dashboards")
	require.True(t, ok)
	assert.Equal(t, "view_dashboards", p.Label)
	assert.Equal(t, "system", p.Group)

	// Re-registering is a no-op; the original entry wins.
	added = c.Register(Permission{Name: "view_dashboards", Label: "other"})
	assert.False(t, added)
	p, _ = c.Get("view_dashboards")
	assert.Equal(t, "view_dashboards", p.Label)
}

func TestCatalog_ByGroup(t *testing.T) {
	c := NewCatalog()
	roles := c.ByGroup("roles")
	require.NotEmpty(t, roles)
	for _, p := range roles {
		assert.Equal(t, "roles", p.Group)
	}
}

func TestDefaultRolePermissions(t *testing.T) {
	c := NewCatalog()
	defaults := DefaultRolePermissions(c)

	// Owner gets the full catalog.
	assert.Len(t, defaults["owner"], len(c.All()))

	// Every seeded name must exist in the catalog.
	for slug, names := range defaults {
		assert.True(t, c.Validate(names), slug)
	}

	// User is the narrowest set.
	assert.Less(t, len(defaults["user"]), len(defaults["manager"]))
	assert.Less(t, len(defaults["manager"]), len(defaults["admin"]))
}
