package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gvmbt/pvndora-shop/internal/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.OrderPending, models.OrderPaid, true},
		{models.OrderPending, models.OrderCancelled, true},
		{models.OrderPending, models.OrderExpired, true},
		{models.OrderPending, models.OrderDelivered, false},
		{models.OrderPaid, models.OrderDelivered, true},
		{models.OrderPaid, models.OrderPartial, true},
		{models.OrderPaid, models.OrderRefundPending, true},
		{models.OrderPaid, models.OrderCancelled, false},
		{models.OrderPartial, models.OrderDelivered, true},
		{models.OrderPartial, models.OrderRefundPending, true},
		{models.OrderRefundPending, models.OrderRefunded, true},

		// Terminal states have no way out.
		{models.OrderDelivered, models.OrderPaid, false},
		{models.OrderCancelled, models.OrderPending, false},
		{models.OrderExpired, models.OrderPending, false},
		{models.OrderRefunded, models.OrderPaid, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestErrorReachableFromAnywhere(t *testing.T) {
	all := []string{
		models.OrderPending, models.OrderPaid, models.OrderPartial,
		models.OrderDelivered, models.OrderCancelled, models.OrderExpired,
		models.OrderRefundPending, models.OrderRefunded,
	}
	for _, from := range all {
		assert.True(t, CanTransition(from, models.OrderError), "%s -> error", from)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(models.OrderPending))
	assert.False(t, IsTerminal(models.OrderPaid))
	assert.True(t, IsTerminal(models.OrderDelivered))
	assert.True(t, IsTerminal(models.OrderCancelled))
	assert.True(t, IsTerminal(models.OrderError))
}
