package auth

import "strings"

// Role is the role claim carried by dashboard tokens.
//
// Readings, status and the alert view are public. Dismissing a burst alert
// clears it for every dashboard and marks the stored reading, so it needs
// DismissRole or above. RoleViewer is issued to read-only consoles.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// DismissRole is the least role allowed to dismiss an active alert.
const DismissRole = RoleOperator

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole maps a claim such as " Operator " to its Role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role ranks at or above required. Unknown roles
// rank below viewer.
func RoleAtLeast(role, required Role) bool {
	return roleRanks[role] >= roleRanks[required]
}
