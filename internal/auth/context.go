package auth

// Authentication methods recorded on a Context.
const (
	MethodAPIKey    = "apikey"
	MethodSession   = "session"
	MethodDisabled  = "disabled"
	MethodAnonymous = "anonymous"
)

// LocalAdminName is the identity granted when no API keys are configured.
const LocalAdminName = "local-admin"

// Context is the identity and role resolved for one request.
type Context struct {
	// Name identifies the caller in audit trails.
	Name          string
	UserID        string
	OrgID         string
	Role          Role
	Authenticated bool
	Method        string
}

// Anonymous returns the unauthenticated identity scoped to org.
func Anonymous(org string) *Context {
	return &Context{OrgID: org, Method: MethodAnonymous}
}

// Can reports whether the caller holds perm. Unauthenticated callers hold
// nothing.
func (c *Context) Can(perm Permission) bool {
	return c != nil && c.Authenticated && HasPermission(c.Role, perm)
}

// IsAdmin reports whether the caller is an authenticated admin.
func (c *Context) IsAdmin() bool {
	return c != nil && c.Authenticated && c.Role == RoleAdmin
}
