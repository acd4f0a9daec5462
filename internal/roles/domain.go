package roles

import (
	"time"

	"github.com/aegis-iam/aegis/internal/rbac"
)

// Role is a managed role: a unique name, its hierarchy rank and the
// permissions granted through it.
type Role struct {
	ID          int64
	Name        string
	Hierarchy   int
	Permissions []rbac.Permission
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RankView projects the role into the shape the authorization core compares.
func (r Role) RankView() rbac.Role {
	return rbac.Role{ID: r.ID, Name: r.Name, Hierarchy: r.Hierarchy}
}
