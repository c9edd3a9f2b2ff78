package models

import "strings"

// ProjectRole is a member's role within a project.
type ProjectRole string

const (
	RoleOwner    ProjectRole = "owner"
	RoleManager  ProjectRole = "manager"
	RoleTester   ProjectRole = "tester"
	RoleApprover ProjectRole = "approver"
)

// AllProjectRoles lists every valid role, used for validation and filters.
var AllProjectRoles = []ProjectRole{RoleOwner, RoleManager, RoleTester, RoleApprover}

// Valid reports whether r is one of the known project roles.
func (r ProjectRole) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleTester, RoleApprover:
		return true
	}
	return false
}

// CanManageMembers reports whether the role may invite members,
// change member roles, or remove members.
func (r ProjectRole) CanManageMembers() bool {
	return r == RoleOwner || r == RoleManager
}

// CanDeleteProject reports whether the role may delete the project itself.
func (r ProjectRole) CanDeleteProject() bool {
	return r == RoleOwner
}

func (r ProjectRole) String() string { return string(r) }

// ParseProjectRole converts a request string into a ProjectRole,
// returning false for anything outside the catalog.
func ParseProjectRole(s string) (ProjectRole, bool) {
	r := ProjectRole(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", false
	}
	return r, true
}
