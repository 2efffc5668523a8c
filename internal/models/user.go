package models

import "time"

// User roles
const (
	RoleAdmin      = "ADMIN"
	RoleSupervisor = "SUPERVISOR"
	RolePartner    = "PARTNER"
)

// User statuses
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// User is an account holder: an administrator, a cash-point supervisor or a
// counterparty partner.
type User struct {
	ID        string    `json:"id" db:"id"`
	FullName  string    `json:"full_name" db:"full_name"`
	Phone     string    `json:"phone" db:"phone"`
	Role      string    `json:"role" db:"role"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsActiveSupervisor reports whether the user holds rollover-eligible accounts.
func (u *User) IsActiveSupervisor() bool {
	return u.Role == RoleSupervisor && u.Status == StatusActive
}
