package domain

import "time"

// Role names the capability set of a user.
type Role string

const (
	RoleAdmin            Role = "ADMIN"
	RolePharmacyOperator Role = "PHARMACY_OPERATOR"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RolePharmacyOperator
}

// User is a principal of the system. AssignedPharmacies is loaded separately
// from the user_pharmacies join table.
type User struct {
	ID                 int64     `json:"id" db:"id"`
	Name               string    `json:"name" db:"name"`
	Email              string    `json:"email" db:"email"`
	PasswordHash       string    `json:"-" db:"password_hash"`
	Role               Role      `json:"role" db:"role"`
	ActivePharmacyID   *int64    `json:"active_pharmacy_id,omitempty" db:"active_pharmacy_id"`
	AssignedPharmacies []int64   `json:"assigned_pharmacies" db:"-"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}
