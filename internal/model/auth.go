package model

// Role names, ordered by privilege. super_admin bypasses every scope
// check; admin satisfies ALL and the admin fast path of the other scopes.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
	RoleGuest      = "guest"
)

// AuthContext is the per-request caller identity. It is built once from an
// already-verified token, attached to the request, and never persisted.
type AuthContext struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// HasRole reports whether the caller carries the exact role.
func (a *AuthContext) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
