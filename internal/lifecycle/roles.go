package lifecycle

import (
	"fmt"
	"sort"
	"strings"
)

// Role is a named permission group a principal may hold.
type Role string

const (
	RoleAdmin             Role = "ADMIN"
	RoleDepartmentManager Role = "DEPARTMENT_MANAGER"
	RoleProjectManager    Role = "PROJECT_MANAGER"
	RoleTeamLeader        Role = "TEAM_LEADER"
	RoleTeamMember        Role = "TEAM_MEMBER"
)

var knownRoles = []Role{
	RoleAdmin, RoleDepartmentManager, RoleProjectManager, RoleTeamLeader, RoleTeamMember,
}

// Roles returns every known role.
func Roles() []Role {
	out := make([]Role, len(knownRoles))
	copy(out, knownRoles)
	return out
}

// ParseRole accepts "team-leader", "team_leader" or "TEAM_LEADER".
func ParseRole(s string) (Role, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	for _, r := range knownRoles {
		if string(r) == norm {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// RoleSet is an unordered set of roles. The zero value is an empty set.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from roles, ignoring duplicates.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Has reports whether r is in the set.
func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Intersects reports whether the two sets share any role.
func (s RoleSet) Intersects(other RoleSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for r := range small {
		if large.Has(r) {
			return true
		}
	}
	return false
}

// Slice returns the roles sorted by name.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s RoleSet) String() string {
	parts := make([]string, 0, len(s))
	for _, r := range s.Slice() {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ",")
}

func (s RoleSet) clone() RoleSet {
	out := make(RoleSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}
