package roles

import "strings"

// Rule binds a path pattern to the minimum role it requires.
// A pattern is either an exact path or a prefix ending in "/*".
type Rule struct {
	Pattern string
	Role    Role
}

// Policy classifies request paths. The zero value treats every path as
// protected with no role requirement.
type Policy struct {
	public    []string
	protected []Rule
}

func NewPolicy(public []string, protected []Rule) *Policy {
	p := &Policy{
		public:    append([]string(nil), public...),
		protected: append([]Rule(nil), protected...),
	}
	return p
}

// DefaultPolicy is the route table of the application.
func DefaultPolicy() *Policy {
	return NewPolicy(
		[]string{
			"/",
			"/public",
			"/login",
			"/register",
			"/forgot-password",
			"/reset-password",
			"/unauthorized",
			"/about",
			"/policy",
			"/terms",
			"/contract",
			"/healthz",
			"/auth/register",
			"/auth/login",
			"/auth/refresh",
			"/auth/refresh/logout",
			"/auth/logout",
			"/auth/me",
			"/api/public/*",
			"/products/*",
		},
		[]Rule{
			{"/profile", User},
			{"/settings", User},
			{"/feeds", User},
			{"/api/user/*", User},

			{"/analytics", Editor},
			{"/editor", Editor},
			{"/editor/*", Editor},
			{"/content", Editor},
			{"/content/*", Editor},
			{"/api/editor/*", Editor},
			{"/api/content/*", Editor},

			{"/admin", Admin},
			{"/admin/*", Admin},
			{"/users", Admin},
			{"/users/*", Admin},
			{"/system", Admin},
			{"/system/*", Admin},
			{"/api/admin/*", Admin},
			{"/api/users/*", Admin},
			{"/api/analytics/*", Admin},
		},
	)
}

// Match reports whether path matches pattern. "/x/*" matches "/x" and
// everything below it, but not "/xy".
func Match(path, pattern string) bool {
	if base, ok := strings.CutSuffix(pattern, "/*"); ok {
		return path == base || strings.HasPrefix(path, base+"/")
	}
	return path == pattern
}

func (p *Policy) IsPublic(path string) bool {
	for _, pattern := range p.public {
		if Match(path, pattern) {
			return true
		}
	}
	return false
}

// RequiredRoleFor returns the minimum role for path. When several rules
// match, the strictest one wins. ok is false when no rule matches; such a
// protected path needs authentication only.
func (p *Policy) RequiredRoleFor(path string) (role Role, ok bool) {
	for _, r := range p.protected {
		if !Match(path, r.Pattern) {
			continue
		}
		if !ok || r.Role.Rank() > role.Rank() {
			role, ok = r.Role, true
		}
	}
	return role, ok
}
