package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gvmbt/pvndora-shop/internal/inventory"
	"github.com/gvmbt/pvndora-shop/internal/metrics"
	"github.com/gvmbt/pvndora-shop/internal/models"
	"github.com/gvmbt/pvndora-shop/internal/money"
	"github.com/gvmbt/pvndora-shop/internal/notify"
	"github.com/gvmbt/pvndora-shop/internal/orders"
	"github.com/gvmbt/pvndora-shop/internal/payments"
	"github.com/gvmbt/pvndora-shop/internal/promo"
)

var (
	// ErrEmptyCart means there was nothing sellable to check out.
	ErrEmptyCart = errors.New("checkout: cart is empty")

	// ErrDuplicatePending means the cooldown guard tripped: the user already
	// created a pending order within the cooldown window.
	ErrDuplicatePending = errors.New("checkout: duplicate in-flight order")

	// ErrPaymentUnavailable means payment creation failed after retries and
	// the order was rolled back.
	ErrPaymentUnavailable = errors.New("checkout: payment system unavailable")
)

// CartLine is one position of demand entering checkout. UnitPrice is the
// current catalog price; the orchestrator snapshots its own discounted copy
// into the order lines.
type CartLine struct {
	ProductID       int64
	Name            string
	Quantity        int
	UnitPrice       money.Money
	DiscountPercent decimal.Decimal // line-level discount, may be zero
}

// Input is everything Checkout needs besides the context.
type Input struct {
	UserID        int64
	Lines         []CartLine
	Gateway       string
	PaymentMethod string
	PromoCode     string
}

// Result is what the handler returns to the client.
type Result struct {
	Order      *models.Order      `json:"order"`
	Lines      []models.OrderLine `json:"lines"`
	PaymentURL string             `json:"paymentUrl"`
	PayAmount  money.Money        `json:"payAmount"`
	Currency   string             `json:"payCurrency"`
}

// The orchestrator depends on narrow interfaces so it can be exercised
// against fakes; the sqlx repositories satisfy them.

type stockLedger interface {
	AvailableCount(ctx context.Context, productID int64) (int, error)
	ReserveOne(ctx context.Context, productID int64) (*models.StockUnit, error)
	ReleaseByOrders(ctx context.Context, orderIDs []int64) (int64, error)
}

type orderStore interface {
	Create(ctx context.Context, o orders.NewOrder, lines []orders.NewLine) (*models.Order, error)
	Transition(ctx context.Context, orderID int64, from []string, to string) (bool, error)
	LinesByOrder(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	BindStockUnit(ctx context.Context, lineID, stockUnitID int64) error
	DemoteLineToPreorder(ctx context.Context, lineID int64) error
	SetPaymentRef(ctx context.Context, orderID int64, handle, url string) error
	CountRecentPending(ctx context.Context, userID int64, since time.Time) (int, error)
}

type cartStore interface {
	Clear(ctx context.Context, userID int64) error
}

type promoStore interface {
	FindUsable(ctx context.Context, code string) (*models.PromoCode, error)
	IncrementUses(ctx context.Context, promoID int64) error
}

type rateProvider interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Options carries the checkout tunables from config.
type Options struct {
	PaymentWindow   time.Duration
	Cooldown        time.Duration
	BaseCurrency    money.Currency
	GatewayCurrency money.Currency
	PaymentRetries  int
	RetryBackoff    time.Duration
}

// Service converts a cart into a durable pending order with a payment route.
type Service struct {
	ledger   stockLedger
	orders   orderStore
	carts    cartStore
	promos   promoStore
	gateway  payments.Gateway
	rates    rateProvider
	notifier notify.Notifier
	metrics  *metrics.Commerce
	opts     Options
}

func NewService(ledger stockLedger, orderRepo orderStore, cartRepo cartStore,
	promoRepo promoStore, gateway payments.Gateway, rateProvider rateProvider,
	notifier notify.Notifier, m *metrics.Commerce, opts Options) *Service {
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.PaymentRetries == 0 {
		opts.PaymentRetries = 3
	}
	return &Service{
		ledger:   ledger,
		orders:   orderRepo,
		carts:    cartRepo,
		promos:   promoRepo,
		gateway:  gateway,
		rates:    rateProvider,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
	}
}

// Checkout runs the full cart-to-order flow:
//
//  1. Split each line into instant/preorder demand using the available count
//     (a pre-filter only; the atomic ReserveOne below is authoritative).
//  2. Compute Money totals applying max(line discount, promo discount).
//  3. Persist the order and its lines atomically (per-unit instant lines,
//     one aggregated preorder line per product).
//  4. Resolve instant lines to concrete stock units one by one; a line that
//     loses its race is silently demoted to preorder.
//  5. Create the payment keyed by the order's own ID, with bounded retries;
//     on terminal failure the order is cancelled and its units released.
//  6. Store the payment route, clear the cart, bump the promo counter.
func (s *Service) Checkout(ctx context.Context, in Input) (*Result, error) {
	if err := s.checkCooldown(ctx, in.UserID); err != nil {
		s.metrics.Checkouts.WithLabelValues("cooldown").Inc()
		return nil, err
	}

	promoPercent, promoID, err := s.resolvePromo(ctx, in.PromoCode)
	if err != nil {
		return nil, err
	}

	plan, err := s.plan(ctx, in.Lines, promoPercent)
	if err != nil {
		s.metrics.Checkouts.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(plan.lines) == 0 {
		s.metrics.Checkouts.WithLabelValues("error").Inc()
		return nil, ErrEmptyCart
	}

	order, err := s.orders.Create(ctx, orders.NewOrder{
		UserID:          in.UserID,
		Total:           plan.total,
		OriginalTotal:   plan.original,
		DiscountPercent: promoPercent,
		Currency:        s.opts.BaseCurrency.Code,
		Gateway:         in.Gateway,
		PaymentMethod:   in.PaymentMethod,
		ExpiresAt:       time.Now().Add(s.opts.PaymentWindow),
	}, plan.lines)
	if err != nil {
		s.metrics.Checkouts.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := s.reserveInstantLines(ctx, order.ID); err != nil {
		s.rollback(ctx, order.ID, "reservation failed")
		s.metrics.Checkouts.WithLabelValues("error").Inc()
		return nil, err
	}

	payAmount, err := s.settlementAmount(ctx, plan.total)
	if err != nil {
		s.rollback(ctx, order.ID, "rate conversion failed")
		s.metrics.Checkouts.WithLabelValues("error").Inc()
		return nil, err
	}

	handle, err := s.createPayment(ctx, order.ID, payAmount, in.PaymentMethod)
	if err != nil {
		// No orphaned pending order without a payment route.
		s.rollback(ctx, order.ID, "payment creation failed")
		s.metrics.Checkouts.WithLabelValues("payment_failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	if err := s.orders.SetPaymentRef(ctx, order.ID, handle.Reference, handle.URL); err != nil {
		s.rollback(ctx, order.ID, "storing payment reference failed")
		s.metrics.Checkouts.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := s.carts.Clear(ctx, in.UserID); err != nil {
		// The order stands; a stale cart is a nuisance, not a failure.
		log.Warn().Err(err).Int64("userId", in.UserID).Msg("Failed to clear cart after checkout")
	}
	if promoID != 0 {
		if err := s.promos.IncrementUses(ctx, promoID); err != nil {
			log.Warn().Err(err).Int64("promoId", promoID).Msg("Failed to bump promo usage counter")
		}
	}

	s.notifier.Notify(ctx, in.UserID, notify.KindOrderCreated, map[string]string{
		"orderId": strconv.FormatInt(order.ID, 10),
		"total":   plan.total.String(),
		"payUrl":  handle.URL,
	})
	s.metrics.Checkouts.WithLabelValues("created").Inc()

	lines, err := s.orders.LinesByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &Result{
		Order:      order,
		Lines:      lines,
		PaymentURL: handle.URL,
		PayAmount:  payAmount,
		Currency:   s.opts.GatewayCurrency.Code,
	}, nil
}

func (s *Service) checkCooldown(ctx context.Context, userID int64) error {
	count, err := s.orders.CountRecentPending(ctx, userID, time.Now().Add(-s.opts.Cooldown))
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicatePending
	}
	return nil
}

func (s *Service) resolvePromo(ctx context.Context, code string) (decimal.Decimal, int64, error) {
	if code == "" {
		return decimal.Zero, 0, nil
	}
	p, err := s.promos.FindUsable(ctx, code)
	if errors.Is(err, promo.ErrNotFound) {
		// An unusable code is ignored, not fatal: the user still gets their
		// order at full price and the handler reports the applied discount.
		log.Info().Str("code", code).Msg("Ignoring unusable promo code")
		return decimal.Zero, 0, nil
	}
	if err != nil {
		return decimal.Zero, 0, err
	}
	return p.DiscountPercent, p.ID, nil
}

type orderPlan struct {
	lines    []orders.NewLine
	total    money.Money
	original money.Money
}

// plan splits demand into instant/preorder and computes the totals. The
// available count is read-then-decide; correctness does not depend on it.
func (s *Service) plan(ctx context.Context, lines []CartLine, promoPercent decimal.Decimal) (orderPlan, error) {
	var p orderPlan
	p.total = money.Zero()
	p.original = money.Zero()

	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}

		available, err := s.ledger.AvailableCount(ctx, line.ProductID)
		if err != nil {
			return orderPlan{}, err
		}
		instantQty := line.Quantity
		if available < instantQty {
			instantQty = available
		}
		preorderQty := line.Quantity - instantQty

		discount := line.DiscountPercent
		if promoPercent.GreaterThan(discount) {
			discount = promoPercent
		}
		unitPrice := line.UnitPrice.ApplyDiscount(discount).RoundFor(s.opts.BaseCurrency)

		p.original = p.original.Add(line.UnitPrice.MulInt(line.Quantity))
		p.total = p.total.Add(unitPrice.MulInt(line.Quantity))

		// One row per physical unit keeps partial delivery trivial.
		for i := 0; i < instantQty; i++ {
			p.lines = append(p.lines, orders.NewLine{
				ProductID:   line.ProductID,
				Quantity:    1,
				UnitPrice:   unitPrice,
				Fulfillment: models.FulfillInstant,
			})
		}
		if preorderQty > 0 {
			p.lines = append(p.lines, orders.NewLine{
				ProductID:   line.ProductID,
				Quantity:    preorderQty,
				UnitPrice:   unitPrice,
				Fulfillment: models.FulfillPreorder,
			})
		}
	}

	p.total = p.total.RoundFor(s.opts.BaseCurrency)
	p.original = p.original.RoundFor(s.opts.BaseCurrency)
	return p, nil
}

// reserveInstantLines resolves each instant line to a concrete stock unit.
// ErrNotAvailable is not an error here: the earlier count was only a
// pre-filter, and a lost race demotes the line to preorder.
func (s *Service) reserveInstantLines(ctx context.Context, orderID int64) error {
	lines, err := s.orders.LinesByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if line.Fulfillment != models.FulfillInstant {
			continue
		}
		unit, err := s.ledger.ReserveOne(ctx, line.ProductID)
		if errors.Is(err, inventory.ErrNotAvailable) {
			log.Debug().Int64("orderId", orderID).Int64("lineId", line.ID).
				Msg("Instant line lost stock race, demoting to preorder")
			if err := s.orders.DemoteLineToPreorder(ctx, line.ID); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := s.orders.BindStockUnit(ctx, line.ID, unit.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) settlementAmount(ctx context.Context, total money.Money) (money.Money, error) {
	if s.opts.GatewayCurrency.Code == s.opts.BaseCurrency.Code {
		return total.RoundFor(s.opts.GatewayCurrency), nil
	}
	rate, err := s.rates.Rate(ctx, s.opts.GatewayCurrency.Code)
	if err != nil {
		return money.Zero(), err
	}
	return total.Convert(rate, s.opts.GatewayCurrency), nil
}

// createPayment retries the gateway with a bounded attempt count and linear
// backoff. The order ID is the idempotency key, so retries are deduplicated
// on the gateway side.
func (s *Service) createPayment(ctx context.Context, orderID int64, amount money.Money, method string) (payments.Handle, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.PaymentRetries; attempt++ {
		handle, err := s.gateway.CreatePayment(ctx, orderID, amount, s.opts.GatewayCurrency.Code, method)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if !errors.Is(err, payments.ErrUnavailable) {
			// The gateway answered and said no; retrying will not help.
			break
		}
		log.Warn().Err(err).Int64("orderId", orderID).Int("attempt", attempt).
			Msg("Payment creation failed, backing off")
		select {
		case <-ctx.Done():
			return payments.Handle{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * s.opts.RetryBackoff):
		}
	}
	return payments.Handle{}, lastErr
}

// rollback voids a just-created order and puts its reserved units back.
func (s *Service) rollback(ctx context.Context, orderID int64, reason string) {
	moved, err := s.orders.Transition(ctx, orderID,
		[]string{models.OrderPending}, models.OrderCancelled)
	if err != nil {
		log.Error().Err(err).Int64("orderId", orderID).Msg("Rollback: cancel failed")
	}
	if _, err := s.ledger.ReleaseByOrders(ctx, []int64{orderID}); err != nil {
		log.Error().Err(err).Int64("orderId", orderID).Msg("Rollback: release failed")
	}
	log.Info().Int64("orderId", orderID).Bool("cancelled", moved).Str("reason", reason).
		Msg("Checkout rolled back")
}
