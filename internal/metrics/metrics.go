package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Commerce holds the counters for the transactional core. One instance is
// created in main and handed to the services that need it.
type Commerce struct {
	Checkouts         *prometheus.CounterVec // result: created|payment_failed|cooldown|error
	ReserveConflicts  prometheus.Counter
	SweptOrders       prometheus.Counter
	ReleasedUnits     prometheus.Counter
	CommissionEntries *prometheus.CounterVec // eligibility: eligible|ineligible
	NotifyFailures    prometheus.Counter
}

func NewCommerce() *Commerce {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: "checkout",
		Name:      "attempts_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: "inventory",
		Name:      "reserve_conflicts_total",
		Help:      "Lost stock reservation races. Expected under load, not errors.",
	})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: "sweeper",
		Name:      "cancelled_orders_total",
		Help:      "Pending orders cancelled by the lifecycle sweeper.",
	})
	released := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: "sweeper",
		Name:      "released_units_total",
		Help:      "Stock units released back to available by the sweeper.",
	})
	commissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: "referral",
		Name:      "commission_entries_total",
		Help:      "Commission ledger entries written, by eligibility.",
	}, []string{"eligibility"})
	notifyFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: "notify",
		Name:      "failures_total",
		Help:      "Best-effort notifications that could not be delivered.",
	})

	prometheus.MustRegister(checkouts, conflicts, swept, released, commissions, notifyFailures)
	return &Commerce{
		Checkouts:         checkouts,
		ReserveConflicts:  conflicts,
		SweptOrders:       swept,
		ReleasedUnits:     released,
		CommissionEntries: commissions,
		NotifyFailures:    notifyFailures,
	}
}

// NewNoop returns unregistered counters for tests and for wiring code paths
// where metrics are not exported.
func NewNoop() *Commerce {
	return &Commerce{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "noop_checkouts"}, []string{"result"}),
		ReserveConflicts: prometheus.NewCounter(prometheus.CounterOpts{Name: "noop_conflicts"}),
		SweptOrders:      prometheus.NewCounter(prometheus.CounterOpts{Name: "noop_swept"}),
		ReleasedUnits:    prometheus.NewCounter(prometheus.CounterOpts{Name: "noop_released"}),
		CommissionEntries: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "noop_commissions"}, []string{"eligibility"}),
		NotifyFailures:    prometheus.NewCounter(prometheus.CounterOpts{Name: "noop_notify"}),
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
