package referral

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/gvmbt/pvndora-shop/internal/models"
	"github.com/gvmbt/pvndora-shop/internal/money"
)

// ErrDuplicateEntry means the (order, level, beneficiary) entry already
// exists; the unique key caught a settlement retry.
var ErrDuplicateEntry = errors.New("referral: commission entry already exists")

// Repository owns the 'commission_entries' table and the referral slice of
// 'users', and credits wallets for eligible bonuses.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// ReferrerChain walks up to maxLevels referrer hops starting from the buyer.
// Result index 0 is the level-1 beneficiary. The referrer link is fixed at
// signup and never re-pointed, so the walk cannot cycle.
func (r *Repository) ReferrerChain(ctx context.Context, userID int64, maxLevels int) ([]int64, error) {
	chain := make([]int64, 0, maxLevels)
	current := userID
	for level := 1; level <= maxLevels; level++ {
		var referrer sql.NullInt64
		err := r.db.GetContext(ctx, &referrer,
			"SELECT referrer_id FROM users WHERE id = ?", current)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("referral: referrer of user %d: %w", current, err)
		}
		if !referrer.Valid {
			break
		}
		chain = append(chain, referrer.Int64)
		current = referrer.Int64
	}
	return chain, nil
}

func (r *Repository) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var banned bool
	err := r.db.GetContext(ctx, &banned, "SELECT is_banned FROM users WHERE id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		// An orphaned referrer row is treated as disqualified, not fatal.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("referral: ban check for user %d: %w", userID, err)
	}
	return banned, nil
}

// HasEntry is the idempotency check before a settlement attempt.
func (r *Repository) HasEntry(ctx context.Context, orderID int64, level int, beneficiaryID int64) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM commission_entries WHERE order_id = ? AND level = ? AND beneficiary_id = ?",
		orderID, level, beneficiaryID)
	if err != nil {
		return false, fmt.Errorf("referral: entry check for order %d level %d: %w", orderID, level, err)
	}
	return count > 0, nil
}

// Record writes the audit entry and, when eligible, the wallet credit in one
// transaction. The unique key on (order, level, beneficiary) turns a lost
// check-then-insert race into ErrDuplicateEntry instead of a double credit.
func (r *Repository) Record(ctx context.Context, orderID, beneficiaryID int64, level int,
	amount money.Money, eligible bool, reason string) error {

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("referral: begin record tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var nullReason sql.NullString
	if reason != "" {
		nullReason = sql.NullString{String: reason, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO commission_entries (order_id, beneficiary_id, level, amount, eligible, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		orderID, beneficiaryID, level, amount, eligible, nullReason, now)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("referral: insert entry for order %d level %d: %w", orderID, level, err)
	}

	if eligible {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallet_transactions (user_id, type, amount, details, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			beneficiaryID, "commission", amount,
			fmt.Sprintf("Level %d commission for order #%d", level, orderID), now); err != nil {
			return fmt.Errorf("referral: credit user %d for order %d: %w", beneficiaryID, orderID, err)
		}
	}

	return tx.Commit()
}

// WalletBalance sums a user's wallet transactions.
func (r *Repository) WalletBalance(ctx context.Context, userID int64) (money.Money, error) {
	var balance money.Money
	err := r.db.GetContext(ctx, &balance,
		"SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE user_id = ?", userID)
	if err != nil {
		return money.Zero(), fmt.Errorf("referral: balance for user %d: %w", userID, err)
	}
	return balance, nil
}

// EntriesByOrder lists the audit rows written for an order.
func (r *Repository) EntriesByOrder(ctx context.Context, orderID int64) ([]models.CommissionEntry, error) {
	entries := []models.CommissionEntry{}
	err := r.db.SelectContext(ctx, &entries,
		"SELECT * FROM commission_entries WHERE order_id = ? ORDER BY level", orderID)
	if err != nil {
		return nil, fmt.Errorf("referral: entries for order %d: %w", orderID, err)
	}
	return entries, nil
}
