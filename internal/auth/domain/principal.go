package domain

// Principal is the authenticated identity attached to a request by the
// gateway. RequiresReauth is set when the session's device fingerprint no
// longer matches the request context; the session stays valid but sensitive
// operations should demand fresh credentials.
type Principal struct {
	ID             string
	Role           string
	Permissions    []string
	Authenticated  bool
	SessionID      string
	RequiresReauth bool
	AnomalyScore   int
	AnomalyReasons []string
}

// HasPermission checks for perm, its category wildcard, or the global
// wildcard.
func (p *Principal) HasPermission(perm string) bool {
	for _, held := range p.Permissions {
		if held == "*" || held == perm {
			return true
		}
		// category wildcard, e.g. "users:*" covers "users:read"
		if n := len(held); n > 2 && held[n-2:] == ":*" && len(perm) >= n-1 && perm[:n-1] == held[:n-1] {
			return true
		}
	}
	return false
}
