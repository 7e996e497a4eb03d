package model

// RoleAdmin grants read access to every account.
const RoleAdmin = "admin"

// Principal is the authenticated caller a request runs on behalf of. It is
// established by the identity layer before it reaches the application.
type Principal struct {
	ID   string
	Role string
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
