package models

import (
	"database/sql"
	"time"
)

// User roles. Managers can deliver orders and run the sweeper by hand.
const (
	RoleCustomer = "customer"
	RoleManager  = "manager"
)

// User is the slice of the 'users' table the core needs: identity, the fixed
// referrer link set at signup, and the ban flag commission settlement checks.
// Profile/auth fields live with the (external) account service.
type User struct {
	ID         int64         `json:"id" db:"id"`
	ReferrerID sql.NullInt64 `json:"referrerId,omitempty" db:"referrer_id"`
	Role       string        `json:"role" db:"role"`
	IsBanned   bool          `json:"isBanned" db:"is_banned"`
	CreatedAt  time.Time     `json:"createdAt" db:"created_at"`
}
