package auth

import (
	"context"
	"slices"
)

type authContextKey struct{}

// WithAuthContext returns a copy of ctx carrying ac.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// AuthContextFrom returns the verified identity attached to ctx, or nil.
func AuthContextFrom(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(authContextKey{}).(*AuthContext) //nolint:errcheck // type assertion, not error
	return ac
}

// Allowlist is a set of roles permitted on a route.
type Allowlist []Role

// Allow builds an Allowlist.
func Allow(roles ...Role) Allowlist {
	return Allowlist(roles)
}

// Permits reports whether role is in the list.
func (a Allowlist) Permits(role Role) bool {
	return slices.Contains(a, role)
}

// Route allowlists.
var (
	AdminOnly        = Allow(RoleAdmin)
	AuditReaders     = Allow(RoleAdmin, RoleDispatcher)
	AnyAuthenticated = Allow(ValidRoles...)
)
