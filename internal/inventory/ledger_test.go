package inventory

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gvmbt/pvndora-shop/internal/metrics"
	"github.com/gvmbt/pvndora-shop/internal/models"
)

func newMockLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLedger(sqlx.NewDb(db, "mysql"), metrics.NewNoop()), mock
}

// The batch release must carry the order-status guard in the statement
// itself: units come back only for orders that are cancelled now, so an id
// list going stale between listing and cancelling cannot strip a paid order.
func TestReleaseByOrdersGuardsOnCancelledStatus(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectExec(`JOIN orders o ON o\.id = ol\.order_id[\s\S]*AND o\.status = \?`).
		WithArgs(models.StockAvailable, int64(1), int64(2), models.StockReserved, models.OrderCancelled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	released, err := ledger.ReleaseByOrders(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseByOrdersEmptyListSkipsTheDatabase(t *testing.T) {
	ledger, mock := newMockLedger(t)

	released, err := ledger.ReleaseByOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountSoldByProduct(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM stock_units`).
		WithArgs(int64(9), models.StockSold).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := ledger.CountSoldByProduct(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
