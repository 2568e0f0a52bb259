package models

import (
	"database/sql"
	"time"
)

// StockUnit statuses. A unit moves available → reserved → sold, or back from
// reserved to available on release. It never leaves sold.
const (
	StockAvailable = "available"
	StockReserved  = "reserved"
	StockSold      = "sold"
)

// StockUnit is the model for the 'stock_units' table: one row per physical
// sellable unit.
type StockUnit struct {
	ID         int64        `json:"id" db:"id"`
	ProductID  int64        `json:"productId" db:"product_id"`
	Status     string       `json:"status" db:"status"`
	ReservedAt sql.NullTime `json:"reservedAt,omitempty" db:"reserved_at"`
	SoldAt     sql.NullTime `json:"soldAt,omitempty" db:"sold_at"`
	CreatedAt  time.Time    `json:"createdAt" db:"created_at"`
}
