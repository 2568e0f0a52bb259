package models

import (
	"database/sql"
	"time"

	"github.com/gvmbt/pvndora-shop/internal/money"
)

// MaxCommissionLevel bounds the referrer walk.
const MaxCommissionLevel = 3

// CommissionEntry is the model for the 'commission_entries' table: the audit
// row for one (order, level, beneficiary) bonus. Written exactly once —
// a unique key on that triple backs settlement idempotency — and never
// updated afterwards.
type CommissionEntry struct {
	ID            int64          `json:"id" db:"id"`
	OrderID       int64          `json:"orderId" db:"order_id"`
	BeneficiaryID int64          `json:"beneficiaryId" db:"beneficiary_id"`
	Level         int            `json:"level" db:"level"`
	Amount        money.Money    `json:"amount" db:"amount"`
	Eligible      bool           `json:"eligible" db:"eligible"`
	Reason        sql.NullString `json:"reason,omitempty" db:"reason"`
	CreatedAt     time.Time      `json:"createdAt" db:"created_at"`
}
