package accounts

// Role is the account's role
type Role = string

const (
	// RoleStudent is the default role for self-registered accounts
	RoleStudent Role = "student"
	// RoleInstructor teaches classes and manages students
	RoleInstructor Role = "instructor"
	// RoleCoordinator organizes instructors and students
	RoleCoordinator Role = "coordinator"
	// RoleManager oversees coordinators, instructors, and students
	RoleManager Role = "manager"
	// RoleAdmin manages everyone, including other admins
	RoleAdmin Role = "admin"
)

// Capability strings granted to roles. Kept as plain strings so permission
// sets serialize cleanly and can be overridden per account.
const (
	PermissionViewCourses        = "view_courses"
	PermissionSubmitAssignments  = "submit_assignments"
	PermissionViewGrades         = "view_grades"
	PermissionManageStudents     = "manage_students"
	PermissionManageAssignments  = "manage_assignments"
	PermissionViewClassData      = "view_class_data"
	PermissionManageCourses      = "manage_courses"
	PermissionManageInstructors  = "manage_instructors"
	PermissionViewReports        = "view_reports"
	PermissionManageCoordinators = "manage_coordinators"
	PermissionManageBudgets      = "manage_budgets"
	PermissionManageUsers        = "manage_users"
	PermissionApproveUsers       = "approve_users"
	PermissionManageSystem       = "manage_system"
)

var rolePermissions = map[Role][]string{
	RoleStudent: {
		PermissionViewCourses,
		PermissionSubmitAssignments,
		PermissionViewGrades,
	},
	RoleInstructor: {
		PermissionManageStudents,
		PermissionManageAssignments,
		PermissionViewClassData,
	},
	RoleCoordinator: {
		PermissionManageStudents,
		PermissionManageInstructors,
		PermissionManageCourses,
		PermissionViewReports,
	},
	RoleManager: {
		PermissionManageStudents,
		PermissionManageInstructors,
		PermissionManageCoordinators,
		PermissionManageCourses,
		PermissionManageBudgets,
		PermissionViewReports,
		PermissionManageUsers,
		PermissionApproveUsers,
	},
	RoleAdmin: {
		PermissionManageStudents,
		PermissionManageInstructors,
		PermissionManageCoordinators,
		PermissionManageCourses,
		PermissionManageBudgets,
		PermissionViewReports,
		PermissionManageUsers,
		PermissionApproveUsers,
		PermissionManageSystem,
	},
}

// manageScope is the explicit per-role management allow list. This is
// deliberately a literal table, not a rank comparison: a role manages
// exactly the roles listed here and nothing else.
var manageScope = map[Role][]Role{
	RoleAdmin:       {RoleAdmin, RoleManager, RoleCoordinator, RoleInstructor, RoleStudent},
	RoleManager:     {RoleCoordinator, RoleInstructor, RoleStudent},
	RoleCoordinator: {RoleInstructor, RoleStudent},
	RoleInstructor:  {RoleStudent},
	RoleStudent:     {},
}

var roleHierarchy = map[Role]int{
	RoleStudent:     1,
	RoleInstructor:  2,
	RoleCoordinator: 3,
	RoleManager:     4,
	RoleAdmin:       5,
}

// IsValid checks if the role is one of the predefined valid roles
func IsValidRole(r Role) bool {
	_, ok := roleHierarchy[r]
	return ok
}

// Rank returns the position of the role in the hierarchy, student lowest.
// Unknown roles rank at zero.
func Rank(r Role) int {
	return roleHierarchy[r]
}

// DefaultPermissions returns a copy of the fixed default capability set
// for a role. The set is never empty for a valid role.
func DefaultPermissions(r Role) []string {
	defaults, ok := rolePermissions[r]
	if !ok {
		return nil
	}
	out := make([]string, len(defaults))
	copy(out, defaults)
	return out
}

// CanManage reports whether the acting role may manage the target role.
// Admin manages everyone, including other admins; every other role manages
// only the roles in its allow list, never laterally or upward.
func CanManage(acting, target Role) bool {
	scope, ok := manageScope[acting]
	if !ok {
		return false
	}
	for _, r := range scope {
		if r == target {
			return true
		}
	}
	return false
}

// IsAtLeast checks if this role meets the minimum required level
func IsAtLeast(r, minRole Role) bool {
	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []Role {
	return []Role{
		RoleStudent,
		RoleInstructor,
		RoleCoordinator,
		RoleManager,
		RoleAdmin,
	}
}

// PublicRegistrationRoles returns the subset of roles the self-service
// registration path may select. Elevated roles are reachable only through
// administrator-created accounts.
func PublicRegistrationRoles() []Role {
	return []Role{RoleStudent, RoleInstructor}
}

// IsPublicRegistrationRole checks whether a role is self-selectable at sign up
func IsPublicRegistrationRole(r Role) bool {
	for _, role := range PublicRegistrationRoles() {
		if role == r {
			return true
		}
	}
	return false
}

// ParseRole safely parses a string into a Role type
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, IsValidRole(role)
}
