package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gvmbt/pvndora-shop/internal/money"
)

// Order statuses. Allowed transitions live in the orders package; these are
// only the raw values shared with the database enum.
const (
	OrderPending       = "pending"
	OrderPaid          = "paid"
	OrderPartial       = "partial"
	OrderDelivered     = "delivered"
	OrderCancelled     = "cancelled"
	OrderExpired       = "expired"
	OrderRefundPending = "refund_pending"
	OrderRefunded      = "refunded"
	OrderError         = "error"
)

// Fulfillment kinds for order lines.
const (
	FulfillInstant  = "instant"
	FulfillPreorder = "preorder"
)

// OrderLine statuses.
const (
	LinePending   = "pending"
	LinePrepaid   = "prepaid"
	LineDelivered = "delivered"
)

// Order is the model for the 'orders' table. Rows are never deleted; the
// status column is the audit trail.
type Order struct {
	ID              int64          `json:"id" db:"id"`
	UserID          int64          `json:"userId" db:"user_id"`
	Status          string         `json:"status" db:"status"`
	Total           money.Money    `json:"total" db:"total"`
	OriginalTotal   money.Money    `json:"originalTotal" db:"original_total"`
	DiscountPercent decimal.Decimal `json:"discountPercent" db:"discount_percent"`
	Currency        string         `json:"currency" db:"currency"`
	Gateway         string         `json:"gateway" db:"gateway"`
	PaymentMethod   string         `json:"paymentMethod" db:"payment_method"`
	PaymentHandle   sql.NullString `json:"paymentHandle,omitempty" db:"payment_handle"`
	PaymentURL      sql.NullString `json:"paymentUrl,omitempty" db:"payment_url"`
	Note            sql.NullString `json:"note,omitempty" db:"note"`
	ExpiresAt       sql.NullTime   `json:"expiresAt,omitempty" db:"expires_at"`
	DeliveredAt     sql.NullTime   `json:"deliveredAt,omitempty" db:"delivered_at"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
}

// OrderLine is the model for the 'order_lines' table. UnitPrice is a snapshot
// taken at checkout; later catalog price changes must not reach past orders.
// Instant lines are one row per physical unit (quantity 1, StockUnitID set
// once reserved); preorder demand is aggregated into a single row.
type OrderLine struct {
	ID          int64         `json:"id" db:"id"`
	OrderID     int64         `json:"orderId" db:"order_id"`
	ProductID   int64         `json:"productId" db:"product_id"`
	StockUnitID sql.NullInt64 `json:"stockUnitId,omitempty" db:"stock_unit_id"`
	Quantity    int           `json:"quantity" db:"quantity"`
	UnitPrice   money.Money   `json:"unitPrice" db:"unit_price"`
	Fulfillment string        `json:"fulfillment" db:"fulfillment"`
	Status      string        `json:"status" db:"status"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
}
