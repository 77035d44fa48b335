package authz

import (
	"sort"
	"strings"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourceStudent    Resource = "student"
	ResourceInstructor Resource = "instructor"
	ResourceLesson     Resource = "lesson"
	ResourceSchedule   Resource = "schedule"
	ResourceVehicle    Resource = "vehicle"
	ResourceEnrollment Resource = "enrollment"
	ResourceReport     Resource = "report"
	ResourceTenant     Resource = "tenant"
	ResourceUser       Resource = "user"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionAssign Action = "assign"
	ActionGrade  Action = "grade"
	ActionBook   Action = "book"
	ActionCancel Action = "cancel"
)

// Capability is a specific permission (resource + action)
type Capability struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// String returns the canonical "resource:action" form
func (c Capability) String() string {
	return string(c.Resource) + ":" + string(c.Action)
}

// Cap is shorthand for constructing a Capability
func Cap(r Resource, a Action) Capability {
	return Capability{Resource: r, Action: a}
}

// Role names carried inside token claims
const (
	RoleSuperadmin  = "superadmin"
	RoleSchoolAdmin = "school_admin"
	RoleInstructor  = "instructor"
	RoleStudent     = "student"
)

// roleCapabilities is the static role to capability table. Superadmin is
// handled separately: it holds every capability and is never listed here.
var roleCapabilities = map[string][]Capability{
	RoleSchoolAdmin: {
		Cap(ResourceStudent, ActionCreate),
		Cap(ResourceStudent, ActionRead),
		Cap(ResourceStudent, ActionUpdate),
		Cap(ResourceStudent, ActionDelete),
		Cap(ResourceInstructor, ActionCreate),
		Cap(ResourceInstructor, ActionRead),
		Cap(ResourceInstructor, ActionUpdate),
		Cap(ResourceInstructor, ActionDelete),
		Cap(ResourceStudent, ActionAssign),
		Cap(ResourceLesson, ActionCreate),
		Cap(ResourceLesson, ActionRead),
		Cap(ResourceLesson, ActionUpdate),
		Cap(ResourceLesson, ActionDelete),
		Cap(ResourceLesson, ActionCancel),
		Cap(ResourceSchedule, ActionRead),
		Cap(ResourceSchedule, ActionUpdate),
		Cap(ResourceVehicle, ActionCreate),
		Cap(ResourceVehicle, ActionRead),
		Cap(ResourceVehicle, ActionUpdate),
		Cap(ResourceVehicle, ActionDelete),
		Cap(ResourceEnrollment, ActionCreate),
		Cap(ResourceEnrollment, ActionRead),
		Cap(ResourceEnrollment, ActionUpdate),
		Cap(ResourceEnrollment, ActionDelete),
		Cap(ResourceReport, ActionRead),
		Cap(ResourceUser, ActionCreate),
		Cap(ResourceUser, ActionRead),
		Cap(ResourceUser, ActionUpdate),
		Cap(ResourceUser, ActionDelete),
	},
	RoleInstructor: {
		Cap(ResourceStudent, ActionRead),
		Cap(ResourceStudent, ActionUpdate),
		Cap(ResourceStudent, ActionGrade),
		Cap(ResourceLesson, ActionCreate),
		Cap(ResourceLesson, ActionRead),
		Cap(ResourceLesson, ActionUpdate),
		Cap(ResourceLesson, ActionCancel),
		Cap(ResourceSchedule, ActionRead),
		Cap(ResourceVehicle, ActionRead),
	},
	RoleStudent: {
		Cap(ResourceStudent, ActionRead),
		Cap(ResourceLesson, ActionRead),
		Cap(ResourceLesson, ActionBook),
		Cap(ResourceLesson, ActionCancel),
		Cap(ResourceSchedule, ActionRead),
		Cap(ResourceEnrollment, ActionRead),
	},
}

// scopedRoles lists roles whose grants are restricted to an explicit
// allow-list of resource ids instead of the whole tenant. Instructors are
// scoped to their assigned students; students to their own records.
var scopedRoles = map[string]bool{
	RoleInstructor: true,
	RoleStudent:    true,
}

// RoleKnown reports whether name is a recognized role.
func RoleKnown(name string) bool {
	if name == RoleSuperadmin {
		return true
	}
	_, ok := roleCapabilities[name]
	return ok
}

// RoleScoped reports whether the role's grants carry a resource allow-list.
func RoleScoped(name string) bool {
	return scopedRoles[name]
}

// RoleCapabilities returns a copy of the role's base capability set.
// Superadmin returns nil: it is treated as holding every capability.
func RoleCapabilities(name string) []Capability {
	caps := roleCapabilities[name]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// missingCapabilities returns the required capabilities the role lacks,
// sorted for stable error messages.
func missingCapabilities(role string, required []Capability) []string {
	if role == RoleSuperadmin {
		return nil
	}
	held := make(map[Capability]bool, len(roleCapabilities[role]))
	for _, c := range roleCapabilities[role] {
		held[c] = true
	}
	var missing []string
	for _, c := range required {
		if !held[c] {
			missing = append(missing, c.String())
		}
	}
	sort.Strings(missing)
	return missing
}

func joinCapabilities(caps []Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}
