package session

// Capability keys checked before gating an action or view.
const (
	PermUsersRead     = "users.read"
	PermUsersWrite    = "users.write"
	PermUsersDelete   = "users.delete"
	PermProjectsRead  = "projects.read"
	PermProjectsWrite = "projects.write"
	PermProjectsDel   = "projects.delete"
	PermAnalyticsRead = "analytics.read"
	PermSettingsRead  = "settings.read"
	PermSettingsWrite = "settings.write"
	PermBillingRead   = "billing.read"
	PermBillingWrite  = "billing.write"
)

// rolePermissions is the static baseline each role grants. Server-issued
// custom permissions are unioned on top of this at check time.
var rolePermissions = map[Role][]string{
	RoleSuperAdmin: {
		PermUsersRead, PermUsersWrite, PermUsersDelete,
		PermProjectsRead, PermProjectsWrite, PermProjectsDel,
		PermAnalyticsRead, PermSettingsRead, PermSettingsWrite,
		PermBillingRead, PermBillingWrite,
	},
	RoleAdmin: {
		PermUsersRead, PermUsersWrite,
		PermProjectsRead, PermProjectsWrite, PermProjectsDel,
		PermAnalyticsRead, PermSettingsRead,
	},
	RoleManager: {
		PermUsersRead,
		PermProjectsRead, PermProjectsWrite,
		PermAnalyticsRead,
	},
	RoleDeveloper: {
		PermProjectsRead, PermProjectsWrite,
	},
	RoleClient: {
		PermProjectsRead,
	},
}

// RolePermissions returns a copy of the static permission baseline for role.
// Unknown roles grant nothing.
func RolePermissions(role Role) []string {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
