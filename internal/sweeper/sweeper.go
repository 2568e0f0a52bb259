package sweeper

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gvmbt/pvndora-shop/internal/metrics"
	"github.com/gvmbt/pvndora-shop/internal/models"
	"github.com/gvmbt/pvndora-shop/internal/notify"
)

type orderStore interface {
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Order, error)
	CancelBatch(ctx context.Context, orderIDs []int64) (int64, error)
	Transition(ctx context.Context, orderID int64, from []string, to string) (bool, error)
	StatusOf(ctx context.Context, orderID int64) (string, error)
}

type stockLedger interface {
	ReleaseByOrders(ctx context.Context, orderIDs []int64) (int64, error)
	ReservedUnitsByOrder(ctx context.Context, orderID int64) ([]int64, error)
	Release(ctx context.Context, stockUnitID int64) (bool, error)
}

// Options carries the sweep tunables from config.
type Options struct {
	StaleFallback time.Duration
	BatchSize     int
}

// Report summarizes one sweep run.
type Report struct {
	Candidates int   `json:"candidates"`
	Cancelled  int64 `json:"cancelled"`
	Released   int64 `json:"released"`
}

// Sweeper expires stale pending orders and returns their reservations to the
// shelf. It is idempotent by construction: cancellation only succeeds from
// pending and release only from reserved, so re-running over the same
// candidates is a no-op.
type Sweeper struct {
	orders   orderStore
	ledger   stockLedger
	notifier notify.Notifier
	metrics  *metrics.Commerce
	opts     Options
}

func New(orderRepo orderStore, ledger stockLedger, notifier notify.Notifier,
	m *metrics.Commerce, opts Options) *Sweeper {
	if opts.BatchSize == 0 {
		opts.BatchSize = 200
	}
	return &Sweeper{orders: orderRepo, ledger: ledger, notifier: notifier, metrics: m, opts: opts}
}

// SweepExpired runs one sweep: collect both candidate feeds, cancel and
// release in batch, and fall back to per-order calls when the batch reports
// nothing — zero rows can mean either an unsupported batch path or a
// concurrent sweep that got there first, and the per-order path is idempotent
// so it is safe in both cases.
func (s *Sweeper) SweepExpired(ctx context.Context) (Report, error) {
	now := time.Now()

	expired, err := s.orders.FindExpiredPending(ctx, now, s.opts.BatchSize)
	if err != nil {
		return Report{}, err
	}
	stale, err := s.orders.FindStalePending(ctx, now.Add(-s.opts.StaleFallback), s.opts.BatchSize)
	if err != nil {
		return Report{}, err
	}

	candidates := append(expired, stale...)
	if len(candidates) == 0 {
		return Report{}, nil
	}

	ids := make([]int64, 0, len(candidates))
	for _, o := range candidates {
		ids = append(ids, o.ID)
	}

	report := Report{Candidates: len(ids)}

	cancelled, cancelErr := s.orders.CancelBatch(ctx, ids)
	released := int64(0)
	switch {
	case cancelErr != nil || cancelled == 0:
		if cancelErr != nil {
			log.Warn().Err(cancelErr).Msg("Batched cancel failed, falling back to per-order sweep")
		}
		cancelled, released = s.sweepPerOrder(ctx, ids)
	default:
		// The batch release is status-guarded in SQL: a candidate that got
		// paid between listing and cancelling keeps its reservation.
		var releaseErr error
		released, releaseErr = s.ledger.ReleaseByOrders(ctx, ids)
		if releaseErr != nil {
			// The cancels already landed, so the per-order path must not key
			// on pending; release only what is provably cancelled.
			log.Warn().Err(releaseErr).Msg("Batched release failed, releasing per order")
			released = s.releaseCancelled(ctx, ids)
		}
	}

	report.Cancelled = cancelled
	report.Released = released
	s.metrics.SweptOrders.Add(float64(cancelled))
	s.metrics.ReleasedUnits.Add(float64(released))

	// Notify only the orders this sweep (or a concurrent one) actually moved;
	// a candidate that paid mid-sweep must not hear it expired.
	for _, o := range candidates {
		status, err := s.orders.StatusOf(ctx, o.ID)
		if err != nil || status != models.OrderCancelled {
			continue
		}
		s.notifier.Notify(ctx, o.UserID, notify.KindOrderExpired, map[string]string{
			"orderId": strconv.FormatInt(o.ID, 10),
		})
	}

	log.Info().Int("candidates", report.Candidates).Int64("cancelled", cancelled).
		Int64("released", released).Msg("Sweep finished")
	return report, nil
}

// sweepPerOrder is the fail-safe path: one conditional transition and one
// release per order. Orders already moved by a concurrent sweep simply report
// false and are skipped.
func (s *Sweeper) sweepPerOrder(ctx context.Context, orderIDs []int64) (cancelled, released int64) {
	for _, id := range orderIDs {
		moved, err := s.orders.Transition(ctx, id, []string{models.OrderPending}, models.OrderCancelled)
		if err != nil {
			log.Error().Err(err).Int64("orderId", id).Msg("Per-order cancel failed")
			continue
		}
		if !moved {
			continue
		}
		cancelled++
		released += s.releaseOrderUnits(ctx, id)
	}
	return cancelled, released
}

// releaseCancelled releases reservations only for orders that are actually
// cancelled now.
func (s *Sweeper) releaseCancelled(ctx context.Context, orderIDs []int64) (released int64) {
	for _, id := range orderIDs {
		status, err := s.orders.StatusOf(ctx, id)
		if err != nil {
			log.Error().Err(err).Int64("orderId", id).Msg("Status check failed during release")
			continue
		}
		if status != models.OrderCancelled {
			continue
		}
		released += s.releaseOrderUnits(ctx, id)
	}
	return released
}

func (s *Sweeper) releaseOrderUnits(ctx context.Context, orderID int64) (released int64) {
	units, err := s.ledger.ReservedUnitsByOrder(ctx, orderID)
	if err != nil {
		log.Error().Err(err).Int64("orderId", orderID).Msg("Listing reserved units failed")
		return 0
	}
	for _, unitID := range units {
		ok, err := s.ledger.Release(ctx, unitID)
		if err != nil {
			log.Error().Err(err).Int64("stockUnitId", unitID).Msg("Per-unit release failed")
			continue
		}
		if ok {
			released++
		}
	}
	return released
}

// Run drives SweepExpired on a fixed interval until the context is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Lifecycle sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Lifecycle sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				log.Error().Err(err).Msg("Sweep run failed")
			}
		}
	}
}
