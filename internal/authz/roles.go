package authz

// Role ids carried in the role_id token claim.
const (
	RoleBroker  = 10
	RoleAudit   = 30
	RoleManager = 40
	RoleAdmin   = 50
)

// IsElevated roles may operate the sync queue.
func IsElevated(roleID int) bool {
	return roleID == RoleManager || roleID == RoleAdmin
}

func IsReadOnly(roleID int) bool {
	return roleID == RoleAudit
}

// SeesAllOwners reports whether the role may inspect every owner's outbox.
func SeesAllOwners(roleID int) bool {
	return roleID == RoleAdmin
}
