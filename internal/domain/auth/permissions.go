package auth

import "sort"

// Permission is a fine-grained action token checked by UI affordances.
type Permission string

const (
	PermCreate         Permission = "create"
	PermRead           Permission = "read"
	PermUpdate         Permission = "update"
	PermDelete         Permission = "delete"
	PermApprove        Permission = "approve"
	PermShip           Permission = "ship"
	PermClose          Permission = "close"
	PermReopen         Permission = "reopen"
	PermManageUsers    Permission = "manage_users"
	PermManageRoles    Permission = "manage_roles"
	PermManageSettings Permission = "manage_settings"
)

// AllPermissions lists every known permission token.
func AllPermissions() []Permission {
	return []Permission{
		PermCreate, PermRead, PermUpdate, PermDelete,
		PermApprove, PermShip, PermClose, PermReopen,
		PermManageUsers, PermManageRoles, PermManageSettings,
	}
}

// Catalog maps each role to the set of permissions it grants.
// A Catalog is immutable after construction and safe for concurrent reads.
type Catalog struct {
	grants map[Role]map[Permission]struct{}
}

// NewCatalog builds a Catalog from a grant table. Invalid roles are ignored.
func NewCatalog(table map[Role][]Permission) Catalog {
	grants := make(map[Role]map[Permission]struct{}, len(table))
	for role, perms := range table {
		if !role.Valid() {
			continue
		}
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		grants[role] = set
	}
	return Catalog{grants: grants}
}

// DefaultCatalog returns the dashboard's standard grants.
// ADMIN ⊇ MANAGER ⊇ USER by convention.
func DefaultCatalog() Catalog {
	return NewCatalog(map[Role][]Permission{
		RoleAdmin: AllPermissions(),
		RoleManager: {
			PermCreate, PermRead, PermUpdate,
			PermApprove, PermShip, PermClose, PermReopen,
			PermManageSettings,
		},
		RoleUser: {PermRead, PermCreate},
	})
}

// PermissionsFor returns the sorted permissions of role, or an empty slice for an unknown role.
func (c Catalog) PermissionsFor(role Role) []Permission {
	set := c.grants[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasPermission is a pure membership test; unknown roles grant nothing.
func (c Catalog) HasPermission(role Role, perm Permission) bool {
	_, ok := c.grants[role][perm]
	return ok
}

// Roles returns the roles with an entry in the catalog, sorted.
func (c Catalog) Roles() []Role {
	out := make([]Role, 0, len(c.grants))
	for r := range c.grants {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
