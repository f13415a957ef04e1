package scope

import "github.com/corelinkhq/platform-core/internal/model"

// roleRank encodes the static role hierarchy:
// super_admin > admin > user = guest.
var roleRank = map[string]int{
	model.RoleSuperAdmin: 3,
	model.RoleAdmin:      2,
	model.RoleUser:       1,
	model.RoleGuest:      1,
}

func maxRank(roles []string) int {
	rank := 0
	for _, r := range roles {
		if v, ok := roleRank[r]; ok && v > rank {
			rank = v
		}
	}
	return rank
}

// IsSuperAdmin reports whether the caller bypasses every scope check.
func IsSuperAdmin(roles []string) bool {
	return maxRank(roles) >= roleRank[model.RoleSuperAdmin]
}

// IsAdmin reports whether the caller passes the admin fast path. A
// super_admin is an admin by hierarchy.
func IsAdmin(roles []string) bool {
	return maxRank(roles) >= roleRank[model.RoleAdmin]
}
