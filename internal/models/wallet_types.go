package models

import (
	"database/sql"
	"time"

	"github.com/gvmbt/pvndora-shop/internal/money"
)

// WalletTransaction is the model for the 'wallet_transactions' table.
// A user's balance is the sum of their transaction amounts.
type WalletTransaction struct {
	ID        int64          `json:"id" db:"id"`
	UserID    int64          `json:"userId" db:"user_id"`
	Type      string         `json:"type" db:"type"` // e.g., deposit, commission
	Amount    money.Money    `json:"amount" db:"amount"`
	Details   sql.NullString `json:"details,omitempty" db:"details"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
}
