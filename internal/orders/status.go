package orders

import "github.com/gvmbt/pvndora-shop/internal/models"

// allowedTransitions is the order state machine. Terminal states (delivered,
// cancelled, expired, refunded, error) have no outgoing edges. The error
// state is additionally reachable from anywhere when an invariant violation
// is detected; Escalate handles that path so it never needs an edge here.
var allowedTransitions = map[string][]string{
	models.OrderPending: {models.OrderPaid, models.OrderCancelled, models.OrderExpired},
	models.OrderPaid:    {models.OrderDelivered, models.OrderPartial, models.OrderRefundPending},
	models.OrderPartial: {models.OrderDelivered, models.OrderRefundPending},

	models.OrderRefundPending: {models.OrderRefunded},
}

// CanTransition reports whether the state machine allows moving an order
// from one status to another.
func CanTransition(from, to string) bool {
	if to == models.OrderError {
		return true
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(status string) bool {
	return len(allowedTransitions[status]) == 0
}
