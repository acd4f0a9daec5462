// Package rbac implements the role-hierarchy authorization core: the
// permission catalog, rank comparison, the per-request access context and the
// policy dispatch table. It holds no persistence; callers load roles and
// permissions once per request and hand them in.
package rbac

// Role is the hierarchy-bearing view of a role used by authorization checks.
// Hierarchy is dense across all roles: the values form {1..N} with no
// duplicates, and a numerically smaller value means more authority.
type Role struct {
	ID        int64
	Name      string
	Hierarchy int
}

// Permission is an atomic capability from the seeded catalog.
type Permission struct {
	ID    int64
	Name  string
	Label string
}

// Identity describes the authenticated actor.
type Identity struct {
	ID    int64
	Name  string
	Email string
}
