package carts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gvmbt/pvndora-shop/internal/models"
	"github.com/gvmbt/pvndora-shop/internal/money"
)

// ErrProductUnavailable means the product cannot be added to a cart (unknown,
// discontinued, or otherwise not for sale).
var ErrProductUnavailable = errors.New("carts: product unavailable")

// Line is one cart position joined with its current catalog price. The price
// here is display-only; checkout snapshots its own copy.
type Line struct {
	ProductID int64       `db:"product_id"`
	Name      string      `db:"name"`
	Quantity  int         `db:"quantity"`
	Price     money.Money `db:"price"`
	Status    string      `db:"status"`
}

// Repository owns the 'carts' and 'cart_items' tables.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// getOrCreateID finds a user's cart or creates one.
func (r *Repository) getOrCreateID(ctx context.Context, userID int64) (int64, error) {
	var cartID int64
	err := r.db.GetContext(ctx, &cartID, "SELECT id FROM carts WHERE user_id = ?", userID)
	if err == nil {
		return cartID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("carts: find cart for user %d: %w", userID, err)
	}

	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO carts (user_id, created_at, updated_at) VALUES (?, ?, ?)", userID, now, now)
	if err != nil {
		return 0, fmt.Errorf("carts: create cart for user %d: %w", userID, err)
	}
	return res.LastInsertId()
}

// AddItem upserts a cart position. Only sellable products (active or
// backorderable coming_soon) may enter a cart.
func (r *Repository) AddItem(ctx context.Context, userID, productID int64, quantity int) error {
	var status string
	err := r.db.GetContext(ctx, &status, "SELECT status FROM products WHERE id = ?", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProductUnavailable
	}
	if err != nil {
		return fmt.Errorf("carts: check product %d: %w", productID, err)
	}
	if status == models.ProductDiscontinued {
		return ErrProductUnavailable
	}

	cartID, err := r.getOrCreateID(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO cart_items (cart_id, product_id, quantity, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity), updated_at = VALUES(updated_at)`,
		cartID, productID, quantity, now, now)
	if err != nil {
		return fmt.Errorf("carts: add product %d: %w", productID, err)
	}
	return nil
}

// SetItemQuantity overwrites a position's quantity; zero removes it.
func (r *Repository) SetItemQuantity(ctx context.Context, userID, productID int64, quantity int) error {
	cartID, err := r.getOrCreateID(ctx, userID)
	if err != nil {
		return err
	}
	if quantity <= 0 {
		return r.RemoveItem(ctx, userID, productID)
	}
	_, err = r.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = ?, updated_at = ? WHERE cart_id = ? AND product_id = ?",
		quantity, time.Now(), cartID, productID)
	if err != nil {
		return fmt.Errorf("carts: set quantity for product %d: %w", productID, err)
	}
	return nil
}

func (r *Repository) RemoveItem(ctx context.Context, userID, productID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE ci FROM cart_items ci
		 JOIN carts c ON c.id = ci.cart_id
		 WHERE c.user_id = ? AND ci.product_id = ?`,
		userID, productID)
	if err != nil {
		return fmt.Errorf("carts: remove product %d: %w", productID, err)
	}
	return nil
}

// LinesForUser loads the cart joined with current catalog data. Discontinued
// products are filtered out here so checkout never sees them.
func (r *Repository) LinesForUser(ctx context.Context, userID int64) ([]Line, error) {
	lines := []Line{}
	err := r.db.SelectContext(ctx, &lines,
		`SELECT ci.product_id, p.name, ci.quantity, p.price, p.status
		 FROM cart_items ci
		 JOIN carts c ON c.id = ci.cart_id
		 JOIN products p ON p.id = ci.product_id
		 WHERE c.user_id = ? AND p.status != ?
		 ORDER BY ci.id`,
		userID, models.ProductDiscontinued)
	if err != nil {
		return nil, fmt.Errorf("carts: lines for user %d: %w", userID, err)
	}
	return lines, nil
}

// Clear empties the user's cart after a successful checkout.
func (r *Repository) Clear(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE ci FROM cart_items ci
		 JOIN carts c ON c.id = ci.cart_id
		 WHERE c.user_id = ?`,
		userID)
	if err != nil {
		return fmt.Errorf("carts: clear for user %d: %w", userID, err)
	}
	return nil
}
