package fulfill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gvmbt/pvndora-shop/internal/inventory"
	"github.com/gvmbt/pvndora-shop/internal/models"
	"github.com/gvmbt/pvndora-shop/internal/notify"
	"github.com/gvmbt/pvndora-shop/internal/payments"
)

var (
	// ErrNotPayable means the order has no payment route or is not pending.
	ErrNotPayable = errors.New("fulfill: order not payable")

	// ErrNotDeliverable means the order is not in a state delivery can act on.
	ErrNotDeliverable = errors.New("fulfill: order not deliverable")

	// ErrLineNotFulfillable means the line is not a pending preorder line, or
	// stock for it could not be reserved.
	ErrLineNotFulfillable = errors.New("fulfill: line not fulfillable")
)

type orderStore interface {
	GetByID(ctx context.Context, orderID int64) (*models.Order, error)
	LinesByOrder(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	Transition(ctx context.Context, orderID int64, from []string, to string) (bool, error)
	SetLineStatus(ctx context.Context, lineID int64, status string) error
	SetLineStatusByOrder(ctx context.Context, orderID int64, status string) error
	MarkDelivered(ctx context.Context, orderID int64, at time.Time) error
	SplitPreorderUnit(ctx context.Context, lineID int64) (int64, error)
	Escalate(ctx context.Context, orderID int64, note string) error
}

type stockLedger interface {
	ReserveOne(ctx context.Context, productID int64) (*models.StockUnit, error)
	MarkSold(ctx context.Context, stockUnitID, orderLineID int64) error
}

type settler interface {
	Settle(ctx context.Context, order *models.Order) error
}

// Service drives an order from paid through delivery, selling the reserved
// units and triggering commission settlement.
type Service struct {
	orders   orderStore
	ledger   stockLedger
	gateway  payments.Gateway
	settler  settler
	notifier notify.Notifier
}

func NewService(orderRepo orderStore, ledger stockLedger, gateway payments.Gateway,
	s settler, notifier notify.Notifier) *Service {
	return &Service{orders: orderRepo, ledger: ledger, gateway: gateway, settler: s, notifier: notifier}
}

// ConfirmPayment polls the gateway for the order's invoice and, when it is
// paid, moves the order to paid and its lines to prepaid. Safe to call
// repeatedly: a lost transition means another confirmation got there first.
func (s *Service) ConfirmPayment(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.PaymentHandle.Valid {
		return nil, fmt.Errorf("order %d has no payment handle: %w", orderID, ErrNotPayable)
	}
	if order.Status != models.OrderPending {
		// Already moved (paid, expired, cancelled); report as-is.
		return order, nil
	}

	state, err := s.gateway.GetInvoiceState(ctx, order.PaymentHandle.String)
	if err != nil {
		return nil, err
	}
	if state != payments.InvoicePaid {
		log.Debug().Int64("orderId", orderID).Str("state", state).Msg("Invoice not paid yet")
		return order, nil
	}

	moved, err := s.orders.Transition(ctx, orderID, []string{models.OrderPending}, models.OrderPaid)
	if err != nil {
		return nil, err
	}
	if moved {
		if err := s.orders.SetLineStatusByOrder(ctx, orderID, models.LinePrepaid); err != nil {
			return nil, err
		}
		s.notifier.Notify(ctx, order.UserID, notify.KindOrderPaid, map[string]string{
			"orderId": strconv.FormatInt(orderID, 10),
		})
	}
	return s.orders.GetByID(ctx, orderID)
}

// Deliver hands over every instant line that has a reserved unit: units flip
// to sold, lines to delivered. The order lands on delivered when nothing is
// left, or on partial while preorder lines are still owed. Settlement fires
// on either outcome and is idempotent on the settlement side.
func (s *Service) Deliver(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPaid && order.Status != models.OrderPartial {
		return nil, fmt.Errorf("order %d is %s: %w", orderID, order.Status, ErrNotDeliverable)
	}

	lines, err := s.orders.LinesByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		if line.Fulfillment != models.FulfillInstant || line.Status == models.LineDelivered {
			continue
		}
		if !line.StockUnitID.Valid {
			// An instant line without a unit lost its race and should have
			// been demoted; deliver what is deliverable and leave it owed.
			log.Warn().Int64("orderId", orderID).Int64("lineId", line.ID).
				Msg("Instant line has no bound unit, skipping")
			continue
		}
		if err := s.ledger.MarkSold(ctx, line.StockUnitID.Int64, line.ID); err != nil {
			if errors.Is(err, inventory.ErrInvalidTransition) {
				// The bound unit is not reserved anymore; the books don't
				// balance and a human has to look at this order.
				note := fmt.Sprintf("unit %d for line %d not reserved at delivery",
					line.StockUnitID.Int64, line.ID)
				if escErr := s.orders.Escalate(ctx, orderID, note); escErr != nil {
					log.Error().Err(escErr).Int64("orderId", orderID).Msg("Escalation failed")
				}
			}
			return nil, err
		}
		if err := s.orders.SetLineStatus(ctx, line.ID, models.LineDelivered); err != nil {
			return nil, err
		}
	}

	return s.finishDelivery(ctx, orderID)
}

// FulfillPreorderUnit delivers one unit of a preorder line once stock has
// arrived. Aggregated lines are split so every delivered unit has its own
// bound row.
func (s *Service) FulfillPreorderUnit(ctx context.Context, orderID, lineID int64) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPaid && order.Status != models.OrderPartial {
		return nil, fmt.Errorf("order %d is %s: %w", orderID, order.Status, ErrNotDeliverable)
	}

	lines, err := s.orders.LinesByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var target *models.OrderLine
	for i := range lines {
		if lines[i].ID == lineID {
			target = &lines[i]
			break
		}
	}
	if target == nil || target.Fulfillment != models.FulfillPreorder ||
		target.Status == models.LineDelivered {
		return nil, ErrLineNotFulfillable
	}

	unit, err := s.ledger.ReserveOne(ctx, target.ProductID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLineNotFulfillable, err)
	}

	unitLineID, err := s.orders.SplitPreorderUnit(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.MarkSold(ctx, unit.ID, unitLineID); err != nil {
		return nil, err
	}
	if err := s.orders.SetLineStatus(ctx, unitLineID, models.LineDelivered); err != nil {
		return nil, err
	}

	return s.finishDelivery(ctx, orderID)
}

// finishDelivery recomputes the order status from its lines and triggers
// settlement when at least one line has been handed over.
func (s *Service) finishDelivery(ctx context.Context, orderID int64) (*models.Order, error) {
	lines, err := s.orders.LinesByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	delivered := 0
	for _, line := range lines {
		if line.Status == models.LineDelivered {
			delivered++
		}
	}

	from := []string{models.OrderPaid, models.OrderPartial}
	switch {
	case delivered == len(lines):
		moved, err := s.orders.Transition(ctx, orderID, from, models.OrderDelivered)
		if err != nil {
			return nil, err
		}
		if moved {
			if err := s.orders.MarkDelivered(ctx, orderID, time.Now()); err != nil {
				return nil, err
			}
		}
	case delivered > 0:
		if _, err := s.orders.Transition(ctx, orderID,
			[]string{models.OrderPaid}, models.OrderPartial); err != nil {
			return nil, err
		}
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if delivered > 0 {
		if err := s.settler.Settle(ctx, order); err != nil {
			// Settlement retries are safe; the delivery itself stands.
			log.Error().Err(err).Int64("orderId", orderID).Msg("Commission settlement incomplete")
		}
		s.notifier.Notify(ctx, order.UserID, notify.KindOrderDelivered, map[string]string{
			"orderId": strconv.FormatInt(orderID, 10),
			"status":  order.Status,
		})
	}
	return order, nil
}
