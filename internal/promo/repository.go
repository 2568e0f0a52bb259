package promo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gvmbt/pvndora-shop/internal/models"
)

// ErrNotFound means the code does not exist or can no longer be applied.
var ErrNotFound = errors.New("promo: code not found")

// Repository owns the 'promo_codes' table.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// FindUsable returns the promo code if it is active and under its usage cap.
func (r *Repository) FindUsable(ctx context.Context, code string) (*models.PromoCode, error) {
	p := &models.PromoCode{}
	err := r.db.GetContext(ctx, p, "SELECT * FROM promo_codes WHERE code = ?", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("promo: find %q: %w", code, err)
	}
	if !p.Usable() {
		return nil, ErrNotFound
	}
	return p, nil
}

// IncrementUses bumps the usage counter after a successful checkout.
func (r *Repository) IncrementUses(ctx context.Context, promoID int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE promo_codes SET uses = uses + 1 WHERE id = ?", promoID)
	if err != nil {
		return fmt.Errorf("promo: increment uses for %d: %w", promoID, err)
	}
	return nil
}
