package rbac

import (
	"context"
	"sort"
	"time"
)

// Claims is the token snapshot taken at issue time: the bearer's identity,
// best role name and flattened permission names, plus the point past which a
// refresh is no longer honored.
type Claims struct {
	UserID           int64     `json:"user_id"`
	Email            string    `json:"email"`
	RoleName         string    `json:"role_name,omitempty"`
	Permissions      []string  `json:"permissions,omitempty"`
	IssuedAt         time.Time `json:"issued_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Access is the per-request authorization context: the resolved identity, its
// full role set and the deduplicated permission set across those roles. It is
// built exactly once per request by the authentication boundary and never
// shared across requests.
//
// The zero value (and a nil pointer) is safe: every query answers "no".
type Access struct {
	user        Identity
	roles       []Role
	permissions map[string]struct{}
	claims      Claims
}

// NewAccess builds an Access for an authenticated identity. Duplicate
// permission names across roles collapse into one entry.
func NewAccess(user Identity, roles []Role, permissions []string, claims Claims) *Access {
	set := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		set[p] = struct{}{}
	}
	return &Access{
		user:        user,
		roles:       append([]Role(nil), roles...),
		permissions: set,
		claims:      claims,
	}
}

// User returns the authenticated identity, or the zero Identity when the
// access was never initialized.
func (a *Access) User() Identity {
	if a == nil {
		return Identity{}
	}
	return a.user
}

// Roles returns the actor's resolved role set.
func (a *Access) Roles() []Role {
	if a == nil {
		return nil
	}
	return a.roles
}

// Permissions returns the flattened permission names, sorted.
func (a *Access) Permissions() []string {
	if a == nil {
		return nil
	}
	names := make([]string, 0, len(a.permissions))
	for name := range a.permissions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasPermission reports whether the name appears in the flattened set.
func (a *Access) HasPermission(name string) bool {
	if a == nil {
		return false
	}
	_, ok := a.permissions[name]
	return ok
}

// BestRole returns the actor's best role, or nil when the actor holds none.
func (a *Access) BestRole() *Role {
	if a == nil {
		return nil
	}
	return BestRole(a.roles)
}

// Claims returns the decoded token claims.
func (a *Access) Claims() Claims {
	if a == nil {
		return Claims{}
	}
	return a.claims
}

type accessContextKey struct{}

// WithAccess stores the access context for the current request.
func WithAccess(ctx context.Context, a *Access) context.Context {
	return context.WithValue(ctx, accessContextKey{}, a)
}

// FromContext extracts the access context; nil when the request was never
// authenticated.
func FromContext(ctx context.Context) *Access {
	a, _ := ctx.Value(accessContextKey{}).(*Access)
	return a
}
