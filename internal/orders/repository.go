package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gvmbt/pvndora-shop/internal/models"
	"github.com/gvmbt/pvndora-shop/internal/money"
)

var (
	// ErrNotFound means the order (or line) does not exist.
	ErrNotFound = errors.New("orders: not found")

	// ErrInvalidTransition means the requested status change is not an edge
	// of the state machine at all (as opposed to a lost conditional update,
	// which Transition reports as false).
	ErrInvalidTransition = errors.New("orders: invalid status transition")
)

// NewOrder carries everything Create needs for the order row.
type NewOrder struct {
	UserID          int64
	Total           money.Money
	OriginalTotal   money.Money
	DiscountPercent decimal.Decimal
	Currency        string
	Gateway         string
	PaymentMethod   string
	ExpiresAt       time.Time
}

// NewLine is one order line to insert alongside the order row.
type NewLine struct {
	ProductID   int64
	Quantity    int
	UnitPrice   money.Money
	Fulfillment string
}

// Repository owns the 'orders' and 'order_lines' tables. Orders are never
// deleted; every mutation goes through a defined transition.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the order and its lines as one transaction. An order must
// never exist as pending with zero lines — the sweeper would try to
// cancel-and-release against nothing — so an empty line set, or a line insert
// failing after the order row went in, forces the order into the terminal
// error status with a diagnostic note instead.
func (r *Repository) Create(ctx context.Context, o NewOrder, lines []NewLine) (*models.Order, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("orders: begin create tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	status := models.OrderPending
	if len(lines) == 0 {
		status = models.OrderError
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO orders (user_id, status, total, original_total, discount_percent,
		                     currency, gateway, payment_method, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.UserID, status, o.Total, o.OriginalTotal, o.DiscountPercent,
		o.Currency, o.Gateway, o.PaymentMethod, o.ExpiresAt, now, now)
	if err != nil {
		return nil, fmt.Errorf("orders: insert order: %w", err)
	}
	orderID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("orders: order id: %w", err)
	}

	if status == models.OrderError {
		if _, err := tx.ExecContext(ctx,
			"UPDATE orders SET note = ? WHERE id = ?",
			"invariant violation: created with zero lines", orderID); err != nil {
			return nil, fmt.Errorf("orders: note empty order: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("orders: commit empty order: %w", err)
		}
		log.Error().Int64("orderId", orderID).Msg("Order created with zero lines, escalated to error status")
		return r.GetByID(ctx, orderID)
	}

	for _, line := range lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_lines (order_id, product_id, quantity, unit_price, fulfillment, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			orderID, line.ProductID, line.Quantity, line.UnitPrice, line.Fulfillment,
			models.LinePending, now); err != nil {
			// The tx rollback removes the order row too, so no pending order
			// without lines can leak out of this path.
			return nil, fmt.Errorf("orders: insert line for product %d: %w", line.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("orders: commit create: %w", err)
	}
	return r.GetByID(ctx, orderID)
}

// Transition conditionally moves an order to a new status, but only when it
// is currently in one of the expected statuses. A false return is not an
// error: it means someone else already moved the order.
func (r *Repository) Transition(ctx context.Context, orderID int64, from []string, to string) (bool, error) {
	for _, f := range from {
		if !CanTransition(f, to) {
			return false, fmt.Errorf("%s -> %s: %w", f, to, ErrInvalidTransition)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []interface{}{to, time.Now(), orderID}
	for _, f := range from {
		args = append(args, f)
	}

	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status IN (%s)", placeholders),
		args...)
	if err != nil {
		return false, fmt.Errorf("orders: transition order %d to %s: %w", orderID, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("orders: transition order %d to %s: %w", orderID, to, err)
	}
	return affected > 0, nil
}

// Escalate forces an order into the terminal error status with a diagnostic
// note. Reachable from any status; requires operator attention, never
// auto-retried.
func (r *Repository) Escalate(ctx context.Context, orderID int64, note string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE orders SET status = ?, note = ?, updated_at = ? WHERE id = ?",
		models.OrderError, note, time.Now(), orderID)
	if err != nil {
		return fmt.Errorf("orders: escalate order %d: %w", orderID, err)
	}
	log.Error().Int64("orderId", orderID).Str("note", note).Msg("Order escalated to error status")
	return nil
}

// CancelBatch moves every listed order from pending to cancelled in one
// statement and reports how many rows actually changed.
func (r *Repository) CancelBatch(ctx context.Context, orderIDs []int64) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		"UPDATE orders SET status = ?, updated_at = ? WHERE id IN (?) AND status = ?",
		models.OrderCancelled, time.Now(), orderIDs, models.OrderPending)
	if err != nil {
		return 0, fmt.Errorf("orders: build batch cancel: %w", err)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("orders: batch cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("orders: batch cancel: %w", err)
	}
	return affected, nil
}

// StatusOf reads just the current status; the sweeper's guarded release path
// uses it.
func (r *Repository) StatusOf(ctx context.Context, orderID int64) (string, error) {
	var status string
	err := r.db.GetContext(ctx, &status, "SELECT status FROM orders WHERE id = ?", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("orders: status of order %d: %w", orderID, err)
	}
	return status, nil
}

func (r *Repository) GetByID(ctx context.Context, orderID int64) (*models.Order, error) {
	o := &models.Order{}
	err := r.db.GetContext(ctx, o, "SELECT * FROM orders WHERE id = ?", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("orders: get order %d: %w", orderID, err)
	}
	return o, nil
}

// GetByIDForUser fetches an order only if it belongs to the user, so one
// user's order identifiers never leak to another.
func (r *Repository) GetByIDForUser(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	o := &models.Order{}
	err := r.db.GetContext(ctx, o, "SELECT * FROM orders WHERE id = ? AND user_id = ?", orderID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("orders: get order %d for user %d: %w", orderID, userID, err)
	}
	return o, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := r.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("orders: list for user %d: %w", userID, err)
	}
	return orders, nil
}

func (r *Repository) LinesByOrder(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	lines := []models.OrderLine{}
	err := r.db.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = ? ORDER BY id", orderID)
	if err != nil {
		return nil, fmt.Errorf("orders: lines for order %d: %w", orderID, err)
	}
	return lines, nil
}

// FindExpiredPending is the sweeper's primary feed: pending orders whose
// explicit payment deadline has passed.
func (r *Repository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	orders := []models.Order{}
	err := r.db.SelectContext(ctx, &orders,
		`SELECT * FROM orders
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
		 ORDER BY expires_at ASC LIMIT ?`,
		models.OrderPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("orders: find expired pending: %w", err)
	}
	return orders, nil
}

// FindStalePending is the fallback feed: legacy pending orders with no
// deadline at all, older than the fixed fallback window.
func (r *Repository) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Order, error) {
	orders := []models.Order{}
	err := r.db.SelectContext(ctx, &orders,
		`SELECT * FROM orders
		 WHERE status = ? AND expires_at IS NULL AND created_at < ?
		 ORDER BY created_at ASC LIMIT ?`,
		models.OrderPending, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("orders: find stale pending: %w", err)
	}
	return orders, nil
}

// SetPaymentRef stores the gateway handle and payment URL after a successful
// createPayment call.
func (r *Repository) SetPaymentRef(ctx context.Context, orderID int64, handle, url string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE orders SET payment_handle = ?, payment_url = ?, updated_at = ? WHERE id = ?",
		handle, url, time.Now(), orderID)
	if err != nil {
		return fmt.Errorf("orders: set payment ref for order %d: %w", orderID, err)
	}
	return nil
}

// BindStockUnit records which physical unit backs an instant line.
func (r *Repository) BindStockUnit(ctx context.Context, lineID, stockUnitID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE order_lines SET stock_unit_id = ? WHERE id = ?", stockUnitID, lineID)
	if err != nil {
		return fmt.Errorf("orders: bind unit %d to line %d: %w", stockUnitID, lineID, err)
	}
	return nil
}

// DemoteLineToPreorder flips an instant line that lost its reservation race.
func (r *Repository) DemoteLineToPreorder(ctx context.Context, lineID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE order_lines SET fulfillment = ?, stock_unit_id = NULL WHERE id = ?",
		models.FulfillPreorder, lineID)
	if err != nil {
		return fmt.Errorf("orders: demote line %d: %w", lineID, err)
	}
	return nil
}

func (r *Repository) SetLineStatus(ctx context.Context, lineID int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE order_lines SET status = ? WHERE id = ?", status, lineID)
	if err != nil {
		return fmt.Errorf("orders: set line %d status %s: %w", lineID, status, err)
	}
	return nil
}

// SetLineStatusByOrder moves every line of an order to the given status.
func (r *Repository) SetLineStatusByOrder(ctx context.Context, orderID int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE order_lines SET status = ? WHERE order_id = ?", status, orderID)
	if err != nil {
		return fmt.Errorf("orders: set lines of order %d to %s: %w", orderID, status, err)
	}
	return nil
}

// SplitPreorderUnit carves a single-unit row off an aggregated preorder line
// so the delivered unit can be bound to its own row. A quantity-1 line is
// returned as-is.
func (r *Repository) SplitPreorderUnit(ctx context.Context, lineID int64) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("orders: begin split tx: %w", err)
	}
	defer tx.Rollback()

	var line models.OrderLine
	if err := tx.GetContext(ctx, &line,
		"SELECT * FROM order_lines WHERE id = ? FOR UPDATE", lineID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("orders: load line %d for split: %w", lineID, err)
	}
	if line.Quantity <= 1 {
		return lineID, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE order_lines SET quantity = quantity - 1 WHERE id = ?", lineID); err != nil {
		return 0, fmt.Errorf("orders: shrink line %d: %w", lineID, err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO order_lines (order_id, product_id, quantity, unit_price, fulfillment, status, created_at)
		 VALUES (?, ?, 1, ?, ?, ?, ?)`,
		line.OrderID, line.ProductID, line.UnitPrice, line.Fulfillment, line.Status, time.Now())
	if err != nil {
		return 0, fmt.Errorf("orders: split line %d: %w", lineID, err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("orders: split line id: %w", err)
	}
	return newID, tx.Commit()
}

// MarkDelivered stamps the delivery time after a successful transition to
// delivered.
func (r *Repository) MarkDelivered(ctx context.Context, orderID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE orders SET delivered_at = ?, updated_at = ? WHERE id = ?", at, at, orderID)
	if err != nil {
		return fmt.Errorf("orders: mark delivered order %d: %w", orderID, err)
	}
	return nil
}

// CountDeliveredBoundLines counts delivered order lines of a product that are
// bound to a stock unit. Against the ledger's sold count it makes a cheap
// double-sale audit: every sold unit should back exactly one delivered line.
func (r *Repository) CountDeliveredBoundLines(ctx context.Context, productID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM order_lines WHERE product_id = ? AND status = ? AND stock_unit_id IS NOT NULL",
		productID, models.LineDelivered)
	if err != nil {
		return 0, fmt.Errorf("orders: count delivered lines for product %d: %w", productID, err)
	}
	return count, nil
}

// CountRecentPending backs the checkout cooldown guard.
func (r *Repository) CountRecentPending(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM orders WHERE user_id = ? AND status = ? AND created_at > ?",
		userID, models.OrderPending, since)
	if err != nil {
		return 0, fmt.Errorf("orders: count recent pending for user %d: %w", userID, err)
	}
	return count, nil
}
