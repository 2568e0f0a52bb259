package referral

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gvmbt/pvndora-shop/internal/metrics"
	"github.com/gvmbt/pvndora-shop/internal/models"
	"github.com/gvmbt/pvndora-shop/internal/money"
	"github.com/gvmbt/pvndora-shop/internal/notify"
)

// Disqualification reasons written to ineligible entries.
const (
	ReasonBanned       = "beneficiary banned"
	ReasonSelfReferral = "self referral"
)

type store interface {
	ReferrerChain(ctx context.Context, userID int64, maxLevels int) ([]int64, error)
	IsBanned(ctx context.Context, userID int64) (bool, error)
	HasEntry(ctx context.Context, orderID int64, level int, beneficiaryID int64) (bool, error)
	Record(ctx context.Context, orderID, beneficiaryID int64, level int,
		amount money.Money, eligible bool, reason string) error
}

// Settler walks the referral chain of a delivered order and credits the
// multi-level bonuses.
type Settler struct {
	store    store
	notifier notify.Notifier
	metrics  *metrics.Commerce
	percents map[int]decimal.Decimal
	currency money.Currency
}

func NewSettler(s store, notifier notify.Notifier, m *metrics.Commerce,
	levelPercents map[int]float64, currency money.Currency) *Settler {
	percents := make(map[int]decimal.Decimal, len(levelPercents))
	for level, p := range levelPercents {
		percents[level] = decimal.NewFromFloat(p)
	}
	return &Settler{store: s, notifier: notifier, metrics: m, percents: percents, currency: currency}
}

// Settle credits up to three referral levels for a delivered order. Each
// level is an independent unit of work: the existence check (plus the unique
// key behind Record) makes retries safe, and one level failing never blocks
// the others. The returned error joins the per-level failures so the caller
// can retry the whole order.
func (s *Settler) Settle(ctx context.Context, order *models.Order) error {
	chain, err := s.store.ReferrerChain(ctx, order.UserID, models.MaxCommissionLevel)
	if err != nil {
		return err
	}
	if len(chain) == 0 {
		log.Debug().Int64("orderId", order.ID).Msg("No referrers, nothing to settle")
		return nil
	}

	var errs []error
	for i, beneficiaryID := range chain {
		level := i + 1
		if err := s.settleLevel(ctx, order, level, beneficiaryID); err != nil {
			log.Error().Err(err).Int64("orderId", order.ID).Int("level", level).
				Msg("Commission level failed, continuing with the rest")
			errs = append(errs, fmt.Errorf("level %d: %w", level, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Settler) settleLevel(ctx context.Context, order *models.Order, level int, beneficiaryID int64) error {
	exists, err := s.store.HasEntry(ctx, order.ID, level, beneficiaryID)
	if err != nil {
		return err
	}
	if exists {
		log.Debug().Int64("orderId", order.ID).Int("level", level).
			Msg("Commission already settled, skipping")
		return nil
	}

	percent, ok := s.percents[level]
	if !ok {
		return fmt.Errorf("referral: no percent configured for level %d", level)
	}
	amount := order.Total.PercentOf(percent).RoundFor(s.currency)

	eligible, reason := s.qualify(ctx, order, beneficiaryID)

	err = s.store.Record(ctx, order.ID, beneficiaryID, level, amount, eligible, reason)
	if errors.Is(err, ErrDuplicateEntry) {
		// A concurrent settlement won the insert race; the bonus exists.
		return nil
	}
	if err != nil {
		return err
	}

	if eligible {
		s.metrics.CommissionEntries.WithLabelValues("eligible").Inc()
		s.notifier.Notify(ctx, beneficiaryID, notify.KindCommission, map[string]string{
			"orderId": strconv.FormatInt(order.ID, 10),
			"level":   strconv.Itoa(level),
			"amount":  amount.String(),
		})
	} else {
		s.metrics.CommissionEntries.WithLabelValues("ineligible").Inc()
		log.Info().Int64("orderId", order.ID).Int("level", level).
			Int64("beneficiaryId", beneficiaryID).Str("reason", reason).
			Msg("Commission recorded as ineligible")
	}
	return nil
}

// qualify applies the business rules that can void a bonus. The audit row is
// written either way; only the credit is withheld.
func (s *Settler) qualify(ctx context.Context, order *models.Order, beneficiaryID int64) (bool, string) {
	if beneficiaryID == order.UserID {
		return false, ReasonSelfReferral
	}
	banned, err := s.store.IsBanned(ctx, beneficiaryID)
	if err != nil {
		log.Warn().Err(err).Int64("beneficiaryId", beneficiaryID).
			Msg("Ban check failed, withholding credit")
		return false, ReasonBanned
	}
	if banned {
		return false, ReasonBanned
	}
	return true, ""
}
