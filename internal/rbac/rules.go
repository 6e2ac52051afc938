package rbac

// Default policy. Ownership of a session is checked by the engine; these
// permissions only gate which routes a role may call at all. Holders of
// session:oversee skip the ownership check on view and close.
var RolePermissions = map[string][]string{
	"student": {
		"session:start",
		"session:view",
		"session:answer",
		"session:submit",
		"session:close",
	},
	"proctor": {
		"session:view",
		"session:close",
		"session:oversee",
	},
	"admin": {
		"*",
	},
}
