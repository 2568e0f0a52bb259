package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// PromoCode is the model for the 'promo_codes' table.
type PromoCode struct {
	ID              int64           `json:"id" db:"id"`
	Code            string          `json:"code" db:"code"`
	DiscountPercent decimal.Decimal `json:"discountPercent" db:"discount_percent"`
	IsActive        bool            `json:"isActive" db:"is_active"`
	Uses            int             `json:"uses" db:"uses"`
	MaxUses         sql.NullInt64   `json:"maxUses,omitempty" db:"max_uses"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
}

// Usable reports whether the code can still be applied.
func (p PromoCode) Usable() bool {
	if !p.IsActive {
		return false
	}
	if p.MaxUses.Valid && int64(p.Uses) >= p.MaxUses.Int64 {
		return false
	}
	return true
}
