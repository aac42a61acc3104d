// Package permissions defines the closed catalog of permission identifiers the
// application knows about, grouped by domain for presentation. The catalog is
// static at compile time but supports additive runtime registration: a role
// save that references an unseen name registers it rather than failing.
// There is no deletion path; a name removed from the built-in set stays valid
// for as long as stale role rows reference it.
package permissions

import "sync"

// Permission is a single permission catalog entry. Group carries no
// authorization semantics; it only drives UI grouping.
type Permission struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Group string `json:"group"`
}

// Groups maps group tags to their Bengali display names.
var Groups = map[string]string{
	"profile":      "প্রোফাইল",
	"roles":        "রোল",
	"users":        "ইউজার",
	"accounts":     "অ্যাকাউন্টস",
	"transactions": "ট্রানজ্যাকশন",
	"products":     "প্রডাক্টস",
	"inventory":    "ইনভেন্টরি",
	"suppliers":    "সাপ্লায়ার",
	"purchase":     "পারচেজ",
	"sales":        "সেলস",
	"reports":      "রিপোর্ট",
	"system":       "সিস্টেম",
	"areas":        "এলাকা",
}

func builtins() []Permission {
	return []Permission{
		// Profile
		{Name: "view_profile", Label: "প্রোফাইল দেখা", Group: "profile"},
		{Name: "edit_profile", Label: "প্রোফাইল এডিট", Group: "profile"},
		{Name: "view_all_profiles", Label: "সকল প্রোফাইল দেখা", Group: "profile"},

		// Role management
		{Name: "create_role", Label: "রোল তৈরি", Group: "roles"},
		{Name: "edit_role", Label: "রোল এডিট", Group: "roles"},
		{Name: "delete_role", Label: "রোল ডিলিট", Group: "roles"},
		{Name: "assign_role", Label: "রোল অ্যাসাইন", Group: "roles"},

		// User management
		{Name: "create_user", Label: "ইউজার তৈরি", Group: "users"},
		{Name: "edit_user", Label: "ইউজার এডিট", Group: "users"},
		{Name: "delete_user", Label: "ইউজার ডিলিট", Group: "users"},
		{Name: "view_users", Label: "ইউজার লিস্ট দেখা", Group: "users"},

		// Accounts & transactions
		{Name: "view_accounts", Label: "অ্যাকাউন্ট দেখুন", Group: "accounts"},
		{Name: "create_account", Label: "অ্যাকাউন্ট তৈরি", Group: "accounts"},
		{Name: "edit_account", Label: "অ্যাকাউন্ট এডিট", Group: "accounts"},
		{Name: "delete_account", Label: "অ্যাকাউন্ট ডিলিট", Group: "accounts"},
		{Name: "view_transactions", Label: "ট্রানজ্যাকশন দেখুন", Group: "transactions"},
		{Name: "create_transaction", Label: "ট্রানজ্যাকশন তৈরি", Group: "transactions"},
		{Name: "edit_transaction", Label: "ট্রানজ্যাকশন এডিট", Group: "transactions"},
		{Name: "delete_transaction", Label: "ট্রানজ্যাকশন ডিলিট", Group: "transactions"},

		// Products & inventory
		{Name: "view_products", Label: "প্রডাক্ট দেখুন", Group: "products"},
		{Name: "create_product", Label: "প্রডাক্ট তৈরি", Group: "products"},
		{Name: "edit_product", Label: "প্রডাক্ট এডিট", Group: "products"},
		{Name: "delete_product", Label: "প্রডাক্ট ডিলিট", Group: "products"},
		{Name: "view_stocks", Label: "স্টক দেখুন", Group: "inventory"},
		{Name: "adjust_stock", Label: "স্টক সমন্বয়", Group: "inventory"},

		// Suppliers / purchase / sales
		{Name: "view_suppliers", Label: "সাপ্লায়ার দেখুন", Group: "suppliers"},
		{Name: "create_supplier", Label: "সাপ্লায়ার তৈরি", Group: "suppliers"},
		{Name: "create_purchase", Label: "পারচেজ তৈরি", Group: "purchase"},
		{Name: "view_purchases", Label: "পারচেজ দেখুন", Group: "purchase"},
		{Name: "create_sale", Label: "সেল তৈরি", Group: "sales"},
		{Name: "view_sales", Label: "সেল দেখুন", Group: "sales"},

		// Reporting & export
		{Name: "view_reports", Label: "রিপোর্ট দেখা", Group: "reports"},
		{Name: "export_data", Label: "ডেটা এক্সপোর্ট", Group: "reports"},

		// System & settings
		{Name: "assign_permission", Label: "পারমিশন দেওয়া", Group: "system"},
		{Name: "manage_settings", Label: "সেটিংস পরিবর্তন", Group: "system"},
		{Name: "view_logs", Label: "লগ দেখা", Group: "system"},
		{Name: "manage_system", Label: "সিস্টেম ম্যানেজ", Group: "system"},
		{Name: "backup_restore", Label: "ব্যাকআপ ও রিস্টোর", Group: "system"},
		{Name: "import_data", Label: "ডেটা ইম্পোর্ট", Group: "system"},

		// Area management
		{Name: "view_areas", Label: "এলাকা তালিকা দেখা", Group: "areas"},
		{Name: "read_area", Label: "এলাকা বিস্তারিত দেখা", Group: "areas"},
		{Name: "create_area", Label: "এলাকা তৈরি", Group: "areas"},
		{Name: "update_area", Label: "এলাকা এডিট", Group: "areas"},
		{Name: "delete_area", Label: "এলাকা ডিলিট", Group: "areas"},
		{Name: "assign_area", Label: "এলাকা অ্যাসাইন", Group: "areas"},
	}
}

// Catalog is the permission registry. The zero value is not usable; construct
// with NewCatalog. All methods are safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	byKey map[string]Permission
	order []string
}

// NewCatalog builds a catalog seeded with the built-in permission set.
func NewCatalog() *Catalog {
	c := &Catalog{byKey: make(map[string]Permission)}
	for _, p := range builtins() {
		c.byKey[p.Name] = p
		c.order = append(c.order, p.Name)
	}
	return c
}

// IsValid reports whether name exists in the catalog.
func (c *Catalog) IsValid(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byKey[name]
	return ok
}

// AllNames returns the set of all registered permission names.
func (c *Catalog) AllNames() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make(map[string]struct{}, len(c.byKey))
	for name := range c.byKey {
		names[name] = struct{}{}
	}
	return names
}

// All returns every catalog entry in registration order.
func (c *Catalog) All() []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Permission, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byKey[name])
	}
	return out
}

// ByGroup returns the entries belonging to a group, in registration order.
func (c *Catalog) ByGroup(group string) []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Permission
	for _, name := range c.order {
		if p := c.byKey[name]; p.Group == group {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the entry for name, if present.
func (c *Catalog) Get(name string) (Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byKey[name]
	return p, ok
}

// Label returns the display label for name, falling back to the name itself.
func (c *Catalog) Label(name string) string {
	if p, ok := c.Get(name); ok {
		return p.Label
	}
	return name
}

// Register additively adds a permission. Registering an existing name is a
// no-op; the original entry wins. Returns true if the name was newly added.
func (c *Catalog) Register(p Permission) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byKey[p.Name]; ok {
		return false
	}
	if p.Label == "" {
		p.Label = p.Name
	}
	if p.Group == "" {
		p.Group = "system"
	}
	c.byKey[p.Name] = p
	c.order = append(c.order, p.Name)
	return true
}

// Validate reports whether every name in the list exists in the catalog.
func (c *Catalog) Validate(names []string) bool {
	for _, name := range names {
		if !c.IsValid(name) {
			return false
		}
	}
	return true
}

// DefaultRolePermissions returns the permission sets seeded for the reserved
// roles at tenant creation. The owner set is the full catalog at seed time.
func DefaultRolePermissions(c *Catalog) map[string][]string {
	all := c.All()
	owner := make([]string, 0, len(all))
	for _, p := range all {
		owner = append(owner, p.Name)
	}

	return map[string][]string{
		"owner": owner,
		"admin": {
			"view_profile", "edit_profile", "view_all_profiles",
			"create_user", "edit_user", "view_users",
			"assign_role",
			"view_accounts", "create_account", "view_transactions", "create_transaction",
			"view_products", "create_product", "view_stocks",
			"view_suppliers", "create_supplier",
			"view_purchases", "create_purchase", "view_sales", "create_sale",
			"view_reports", "export_data", "view_logs",
			"view_areas", "read_area", "create_area", "update_area", "delete_area", "assign_area",
		},
		"manager": {
			"view_profile", "edit_profile",
			"view_users", "view_accounts", "view_transactions",
			"view_products", "view_stocks", "view_suppliers",
			"view_purchases", "view_sales", "view_reports",
			"view_areas", "read_area", "assign_area", "update_area",
		},
		"user": {
			"view_profile", "edit_profile",
			"view_accounts", "view_transactions",
			"view_areas", "read_area",
		},
	}
}
