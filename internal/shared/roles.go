package shared

import "strings"

// RoleAdmin is the built-in privileged role.
const RoleAdmin = "admin"

// DefaultPrivilegedRoles lists roles entitled to reconcile permissions and
// read other users' history when no allow-list is configured.
func DefaultPrivilegedRoles() []string {
	return []string{RoleAdmin}
}

// NormalizeRoles lowercases and deduplicates role names into a membership set.
func NormalizeRoles(roles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		set[role] = struct{}{}
	}
	return set
}
