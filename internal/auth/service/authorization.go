package service

import (
	"path"
	"strings"

	"github.com/wardenlabs/warden/internal/auth/domain"
	"github.com/wardenlabs/warden/pkg/constant"
)

// ProtectedRoute restricts every method under a glob pattern to an explicit
// role allow-list. Patterns are evaluated in order; the first match wins.
type ProtectedRoute struct {
	Pattern      string
	AllowedRoles []string
}

// AuthorizationEngine resolves role-based access. Resolution order:
//  1. a principal holding "*" always passes
//  2. first matching protected-route pattern constrains by role
//  3. an exact (method, path) permission requirement constrains by permission
//  4. nothing matched: deny. The system this replaces allowed by default,
//     which let unmapped routes through unguarded.
type AuthorizationEngine struct {
	rolePermissions map[string][]string
	protectedRoutes []ProtectedRoute
	requirements    map[string]string // "METHOD /path" -> required permission
}

func NewAuthorizationEngine() *AuthorizationEngine {
	return &AuthorizationEngine{
		rolePermissions: map[string][]string{
			constant.RoleAdmin:   {constant.PermissionAll},
			constant.RoleManager: {"users:read", "users:write", "sessions:read", "reports:*"},
			constant.RoleUser:    {"profile:read", "profile:write", "sessions:read"},
			constant.RoleGuest:   {"profile:read"},
		},
		protectedRoutes: []ProtectedRoute{
			{Pattern: "/api/v1/admin/*", AllowedRoles: []string{constant.RoleAdmin}},
			{Pattern: "/api/v1/reports/*", AllowedRoles: []string{constant.RoleAdmin, constant.RoleManager}},
		},
		requirements: map[string]string{
			"GET /api/v1/profile":     "profile:read",
			"PUT /api/v1/profile":     "profile:write",
			"GET /api/v1/sessions":    "sessions:read",
			"DELETE /api/v1/session":  "sessions:read",
			"GET /api/v1/users":       "users:read",
			"POST /api/v1/mfa/setup":  "profile:write",
			"POST /api/v1/mfa/verify": "profile:write",
			"PUT /api/v1/password":    "profile:write",
		},
	}
}

// PermissionsForRole returns a copy of the role's permission set.
func (a *AuthorizationEngine) PermissionsForRole(role string) []string {
	perms := a.rolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// CheckAccess decides whether the principal may reach (method, reqPath).
func (a *AuthorizationEngine) CheckAccess(p *domain.Principal, reqPath, method string) bool {
	if p == nil || !p.Authenticated {
		return false
	}
	if p.HasPermission(constant.PermissionAll) {
		return true
	}

	for _, route := range a.protectedRoutes {
		if matchPattern(route.Pattern, reqPath) {
			for _, role := range route.AllowedRoles {
				if p.Role == role {
					return true
				}
			}
			return false
		}
	}

	if required, ok := a.requirements[method+" "+reqPath]; ok {
		return p.HasPermission(required)
	}

	return false
}

// matchPattern matches a request path against a glob. A trailing "/*" also
// matches nested segments, which path.Match alone does not.
func matchPattern(pattern, reqPath string) bool {
	if ok, _ := path.Match(pattern, reqPath); ok {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(reqPath, prefix+"/")
	}
	return false
}
