package auth

import (
	"net/http"
	"slices"
	"strings"
)

// Permission is a "resource:action" capability.
type Permission string

// Actions.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Permission constants.
const (
	PermDevicesRead     Permission = "devices:read"
	PermDevicesCreate   Permission = "devices:create"
	PermDevicesUpdate   Permission = "devices:update"
	PermDevicesDelete   Permission = "devices:delete"
	PermReadingsRead    Permission = "readings:read"
	PermReadingsCreate  Permission = "readings:create"
	PermReadingsUpdate  Permission = "readings:update"
	PermReadingsDelete  Permission = "readings:delete"
	PermSchedulesRead   Permission = "schedules:read"
	PermSchedulesCreate Permission = "schedules:create"
	PermSchedulesUpdate Permission = "schedules:update"
	PermSchedulesDelete Permission = "schedules:delete"
	PermAdminRead       Permission = "admin:read"
	PermAdminCreate     Permission = "admin:create"
	PermAdminUpdate     Permission = "admin:update"
	PermAdminDelete     Permission = "admin:delete"
)

// rolePermissions is the single source of truth for the authorization model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDevicesRead,
		PermReadingsRead,
		PermSchedulesRead,
	},
	RoleMember: {
		PermDevicesRead, PermDevicesCreate, PermDevicesUpdate,
		PermReadingsRead, PermReadingsCreate,
		PermSchedulesRead, PermSchedulesCreate, PermSchedulesUpdate,
	},
	RoleOperator: {
		PermDevicesRead, PermDevicesCreate, PermDevicesUpdate, PermDevicesDelete,
		PermReadingsRead, PermReadingsCreate, PermReadingsUpdate, PermReadingsDelete,
		PermSchedulesRead, PermSchedulesCreate, PermSchedulesUpdate, PermSchedulesDelete,
	},
	RoleAdmin: {
		PermDevicesRead, PermDevicesCreate, PermDevicesUpdate, PermDevicesDelete,
		PermReadingsRead, PermReadingsCreate, PermReadingsUpdate, PermReadingsDelete,
		PermSchedulesRead, PermSchedulesCreate, PermSchedulesUpdate, PermSchedulesDelete,
		PermAdminRead, PermAdminCreate, PermAdminUpdate, PermAdminDelete,
	},
}

// HasPermission returns true if role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the permissions granted to role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}

// resourceRoutes maps path prefixes to resources, most specific first.
var resourceRoutes = []struct {
	prefix   string
	resource string
}{
	{"/api/admin", "admin"},
	{"/api/devices", "devices"},
	{"/api/readings", "readings"},
	{"/api/schedules", "schedules"},
}

var methodActions = map[string]string{
	http.MethodGet:    ActionRead,
	http.MethodHead:   ActionRead,
	http.MethodPost:   ActionCreate,
	http.MethodPut:    ActionUpdate,
	http.MethodPatch:  ActionUpdate,
	http.MethodDelete: ActionDelete,
}

// Required returns the permission needed for method on path. The boolean is
// false for unmapped combinations.
//
// POST to a ".../status" sub-resource is a state transition and maps to
// update.
func Required(method, path string) (Permission, bool) {
	action, ok := methodActions[strings.ToUpper(method)]
	if !ok {
		return "", false
	}
	if action == ActionCreate && strings.HasSuffix(path, "/status") {
		action = ActionUpdate
	}
	for _, r := range resourceRoutes {
		if path == r.prefix || strings.HasPrefix(path, r.prefix+"/") {
			return Permission(r.resource + ":" + action), true
		}
	}
	return "", false
}
