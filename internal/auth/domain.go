package auth

import "time"

// Token is an issued bearer credential together with its refresh window.
type Token struct {
	Value            string
	IssuedAt         time.Time
	RefreshExpiresAt time.Time
}

// BootstrapRoleName is the seeded role granted to the very first registered
// user so the hierarchy has an owner.
const BootstrapRoleName = "Super Admin"
