package authorization

// UserRole is the closed set of operator roles known to the system.
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleOperator UserRole = "operator"
	RoleViewer   UserRole = "viewer"
)

func (r UserRole) String() string {
	return string(r)
}

func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin
}

func (r UserRole) IsValid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// CanPublish reports whether the role may push domain events into the router.
// Viewers are read-only consumers.
func (r UserRole) CanPublish() bool {
	return r == RoleAdmin || r == RoleOperator
}

// ParseUserRole maps a string to a UserRole, defaulting to viewer for
// anything unknown.
func ParseUserRole(s string) UserRole {
	role := UserRole(s)
	if role.IsValid() {
		return role
	}
	return RoleViewer
}
