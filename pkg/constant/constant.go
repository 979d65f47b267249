package constant

const (
	// Roles. RoleAdmin holds the wildcard permission.
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
	RoleGuest   = "guest"

	DefaultUserRole  = RoleUser
	DefaultTokenType = "Bearer"

	// PermissionAll is the reserved superuser permission.
	PermissionAll = "*"

	// SessionCookieName is the HTTP-only, SameSite=Strict session cookie.
	SessionCookieName = "warden_session"

	// TokenIssuer / TokenAudience are embedded in and required from every JWT.
	TokenIssuer   = "warden"
	TokenAudience = "warden-api"

	// MfaIdentifierPrefix namespaces MFA failures in the lockout guard so
	// repeated code guessing locks independently of password failures.
	MfaIdentifierPrefix = "mfa:"

	// IPIdentifierPrefix namespaces origin-address lockout records.
	IPIdentifierPrefix = "ip:"
)
