package models

import (
	"time"

	"github.com/gvmbt/pvndora-shop/internal/money"
)

// Product statuses. Catalog management (external) flips these; the core only
// reads them.
const (
	ProductActive       = "active"
	ProductOutOfStock   = "out_of_stock"
	ProductComingSoon   = "coming_soon"
	ProductDiscontinued = "discontinued"
)

// Product is the model for the 'products' table.
type Product struct {
	ID        int64       `json:"id" db:"id"`
	Name      string      `json:"name" db:"name"`
	Price     money.Money `json:"price" db:"price"`
	Status    string      `json:"status" db:"status"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time   `json:"updatedAt" db:"updated_at"`
}
