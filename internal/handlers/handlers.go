package handlers

import (
	"github.com/jmoiron/sqlx"

	"github.com/gvmbt/pvndora-shop/internal/carts"
	"github.com/gvmbt/pvndora-shop/internal/checkout"
	"github.com/gvmbt/pvndora-shop/internal/fulfill"
	"github.com/gvmbt/pvndora-shop/internal/inventory"
	"github.com/gvmbt/pvndora-shop/internal/orders"
	"github.com/gvmbt/pvndora-shop/internal/referral"
	"github.com/gvmbt/pvndora-shop/internal/sweeper"
)

// Handlers holds all dependencies for the HTTP handlers.
type Handlers struct {
	DB       *sqlx.DB
	Carts    *carts.Repository
	Orders   *orders.Repository
	Ledger   *inventory.Ledger
	Referral *referral.Repository
	Checkout *checkout.Service
	Fulfill  *fulfill.Service
	Sweeper  *sweeper.Sweeper
}

func New(db *sqlx.DB, cartRepo *carts.Repository, orderRepo *orders.Repository,
	ledger *inventory.Ledger, referralRepo *referral.Repository,
	checkoutSvc *checkout.Service, fulfillSvc *fulfill.Service, sw *sweeper.Sweeper) *Handlers {
	return &Handlers{
		DB:       db,
		Carts:    cartRepo,
		Orders:   orderRepo,
		Ledger:   ledger,
		Referral: referralRepo,
		Checkout: checkoutSvc,
		Fulfill:  fulfillSvc,
		Sweeper:  sw,
	}
}
