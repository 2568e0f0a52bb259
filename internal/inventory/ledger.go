package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/gvmbt/pvndora-shop/internal/metrics"
	"github.com/gvmbt/pvndora-shop/internal/models"
)

var (
	// ErrNotAvailable means no available unit could be reserved. Losing a
	// reservation race surfaces the same way as an empty shelf: the caller
	// retries the next candidate or falls back to preorder.
	ErrNotAvailable = errors.New("inventory: no available stock unit")

	// ErrInvalidTransition means the unit was not in the status the requested
	// change demands (e.g. selling a unit that is not reserved).
	ErrInvalidTransition = errors.New("inventory: invalid stock unit transition")
)

// reserveCandidates limits how many available units one ReserveOne call will
// race for before giving up.
const reserveCandidates = 5

// Ledger is the only component allowed to flip a StockUnit's status. All
// exclusivity lives in conditional UPDATEs; the ledger holds no in-process
// locks.
type Ledger struct {
	db      *sqlx.DB
	metrics *metrics.Commerce
}

func NewLedger(db *sqlx.DB, m *metrics.Commerce) *Ledger {
	return &Ledger{db: db, metrics: m}
}

// AvailableCount reports how many units of a product are currently available.
// This is a pre-filter for splitting instant/preorder demand; the
// authoritative answer is always ReserveOne.
func (l *Ledger) AvailableCount(ctx context.Context, productID int64) (int, error) {
	var count int
	err := l.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM stock_units WHERE product_id = ? AND status = ?",
		productID, models.StockAvailable)
	if err != nil {
		return 0, fmt.Errorf("inventory: count available for product %d: %w", productID, err)
	}
	return count, nil
}

// ReserveOne atomically claims one available unit of the product, oldest
// first so long-shelved units sell before fresh intake. Two callers racing
// for the same row produce exactly one success; the loser moves on to the
// next candidate. Exhausting the candidates returns ErrNotAvailable.
func (l *Ledger) ReserveOne(ctx context.Context, productID int64) (*models.StockUnit, error) {
	var candidates []int64
	err := l.db.SelectContext(ctx, &candidates,
		`SELECT id FROM stock_units
		 WHERE product_id = ? AND status = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		productID, models.StockAvailable, reserveCandidates)
	if err != nil {
		return nil, fmt.Errorf("inventory: list candidates for product %d: %w", productID, err)
	}

	now := time.Now()
	for _, id := range candidates {
		res, err := l.db.ExecContext(ctx,
			"UPDATE stock_units SET status = ?, reserved_at = ? WHERE id = ? AND status = ?",
			models.StockReserved, now, id, models.StockAvailable)
		if err != nil {
			return nil, fmt.Errorf("inventory: reserve unit %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("inventory: reserve unit %d: %w", id, err)
		}
		if affected == 0 {
			// Someone else got this row first. Expected under load.
			l.metrics.ReserveConflicts.Inc()
			log.Debug().Int64("stockUnitId", id).Int64("productId", productID).
				Msg("Lost reservation race, trying next candidate")
			continue
		}

		unit := &models.StockUnit{}
		if err := l.db.GetContext(ctx, unit,
			"SELECT id, product_id, status, reserved_at, sold_at, created_at FROM stock_units WHERE id = ?",
			id); err != nil {
			return nil, fmt.Errorf("inventory: load reserved unit %d: %w", id, err)
		}
		return unit, nil
	}

	return nil, ErrNotAvailable
}

// MarkSold flips a reserved unit to sold and binds it to the order line that
// consumed it. Sold is terminal; selling a unit that is not reserved is an
// invalid transition.
func (l *Ledger) MarkSold(ctx context.Context, stockUnitID, orderLineID int64) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("inventory: begin sell tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE stock_units SET status = ?, sold_at = ? WHERE id = ? AND status = ?",
		models.StockSold, time.Now(), stockUnitID, models.StockReserved)
	if err != nil {
		return fmt.Errorf("inventory: sell unit %d: %w", stockUnitID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inventory: sell unit %d: %w", stockUnitID, err)
	}
	if affected == 0 {
		return fmt.Errorf("sell unit %d for line %d: %w", stockUnitID, orderLineID, ErrInvalidTransition)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE order_lines SET stock_unit_id = ? WHERE id = ?",
		stockUnitID, orderLineID); err != nil {
		return fmt.Errorf("inventory: bind unit %d to line %d: %w", stockUnitID, orderLineID, err)
	}

	return tx.Commit()
}

// Release puts a reserved unit back on the shelf. Idempotent: releasing a
// unit that is already available or already sold reports false and no error,
// because the sweeper can race a concurrent delivery here.
func (l *Ledger) Release(ctx context.Context, stockUnitID int64) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		"UPDATE stock_units SET status = ?, reserved_at = NULL WHERE id = ? AND status = ?",
		models.StockAvailable, stockUnitID, models.StockReserved)
	if err != nil {
		return false, fmt.Errorf("inventory: release unit %d: %w", stockUnitID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inventory: release unit %d: %w", stockUnitID, err)
	}
	return affected > 0, nil
}

// ReleaseByOrders releases, in one statement, every still-reserved unit bound
// to lines of the given orders — but only for orders that are actually
// cancelled now. A candidate that got paid between listing and cancelling
// keeps its reservation, no matter what id list the caller passes. Returns
// the number of units released; zero is a legitimate answer when a concurrent
// sweep already handled the batch.
func (l *Ledger) ReleaseByOrders(ctx context.Context, orderIDs []int64) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		`UPDATE stock_units su
		 JOIN order_lines ol ON ol.stock_unit_id = su.id
		 JOIN orders o ON o.id = ol.order_id
		 SET su.status = ?, su.reserved_at = NULL
		 WHERE ol.order_id IN (?) AND su.status = ? AND o.status = ?`,
		models.StockAvailable, orderIDs, models.StockReserved, models.OrderCancelled)
	if err != nil {
		return 0, fmt.Errorf("inventory: build batch release: %w", err)
	}
	res, err := l.db.ExecContext(ctx, l.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("inventory: batch release: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("inventory: batch release: %w", err)
	}
	return affected, nil
}

// ReservedUnitsByOrder lists the still-reserved units bound to an order's
// lines; the sweeper's per-order fallback path walks these one by one.
func (l *Ledger) ReservedUnitsByOrder(ctx context.Context, orderID int64) ([]int64, error) {
	var ids []int64
	err := l.db.SelectContext(ctx, &ids,
		`SELECT su.id FROM stock_units su
		 JOIN order_lines ol ON ol.stock_unit_id = su.id
		 WHERE ol.order_id = ? AND su.status = ?`,
		orderID, models.StockReserved)
	if err != nil {
		return nil, fmt.Errorf("inventory: reserved units for order %d: %w", orderID, err)
	}
	return ids, nil
}

// CountSoldByProduct backs the no-double-sale audit: for every product the
// number of sold units must equal the number of delivered lines bound to it.
func (l *Ledger) CountSoldByProduct(ctx context.Context, productID int64) (int, error) {
	var count int
	err := l.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM stock_units WHERE product_id = ? AND status = ?",
		productID, models.StockSold)
	if err != nil {
		return 0, fmt.Errorf("inventory: count sold for product %d: %w", productID, err)
	}
	return count, nil
}
