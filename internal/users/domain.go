package users

import (
	"time"

	"github.com/aegis-iam/aegis/internal/rbac"
)

// User represents a user account together with its role assignments.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Roles        []rbac.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BestRole returns the user's best role, or nil for a roleless user.
func (u *User) BestRole() *rbac.Role {
	if u == nil {
		return nil
	}
	return rbac.BestRole(u.Roles)
}
