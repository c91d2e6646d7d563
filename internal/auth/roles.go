package auth

import "strings"

// Role is an authorization tier.
type Role string

const (
	// RoleAdmin can do everything, including administrative operations.
	RoleAdmin Role = "admin"
	// RoleOperator manages devices, readings and schedules.
	RoleOperator Role = "operator"
	// RoleViewer can only read.
	RoleViewer Role = "viewer"
	// RoleMember is the non-admin tier of an organization in session mode.
	RoleMember Role = "member"
)

// ParseRole parses an API-key role name, case-insensitively.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleOperator, RoleViewer, RoleMember:
		return r, true
	}
	return "", false
}

// OrgRole maps an identity provider's organization role claim onto the two
// session tiers. Only admin and owner claims reach the admin tier.
func OrgRole(claim string) Role {
	switch strings.ToLower(strings.TrimSpace(claim)) {
	case "admin", "owner", "org:admin":
		return RoleAdmin
	default:
		return RoleMember
	}
}
