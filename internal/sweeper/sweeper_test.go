package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gvmbt/pvndora-shop/internal/metrics"
	"github.com/gvmbt/pvndora-shop/internal/models"
	"github.com/gvmbt/pvndora-shop/internal/notify"
)

// fakeStore is an in-memory orders + stock double. batchBroken simulates a
// driver where the batched statements affect nothing, forcing the per-order
// fallback.
type fakeStore struct {
	mu          sync.Mutex
	orders      map[int64]*models.Order
	unitsByOrd  map[int64][]int64
	unitStatus  map[int64]string
	batchBroken bool
	releaseErr  error
	// payDuringCancel flips this order to paid inside CancelBatch, before the
	// cancels land, simulating a payment racing the sweep.
	payDuringCancel int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:     make(map[int64]*models.Order),
		unitsByOrd: make(map[int64][]int64),
		unitStatus: make(map[int64]string),
	}
}

func (f *fakeStore) addPending(id int64, expiresAt *time.Time, units ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := &models.Order{ID: id, UserID: id * 100, Status: models.OrderPending, CreatedAt: time.Now().Add(-48 * time.Hour)}
	if expiresAt != nil {
		o.ExpiresAt = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	f.orders[id] = o
	f.unitsByOrd[id] = units
	for _, u := range units {
		f.unitStatus[u] = models.StockReserved
	}
}

func (f *fakeStore) FindExpiredPending(_ context.Context, now time.Time, _ int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.Status == models.OrderPending && o.ExpiresAt.Valid && o.ExpiresAt.Time.Before(now) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) FindStalePending(_ context.Context, olderThan time.Time, _ int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.Status == models.OrderPending && !o.ExpiresAt.Valid && o.CreatedAt.Before(olderThan) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) CancelBatch(_ context.Context, orderIDs []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchBroken {
		return 0, nil
	}
	if o := f.orders[f.payDuringCancel]; o != nil && o.Status == models.OrderPending {
		o.Status = models.OrderPaid
	}
	var n int64
	for _, id := range orderIDs {
		if o := f.orders[id]; o != nil && o.Status == models.OrderPending {
			o.Status = models.OrderCancelled
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Transition(_ context.Context, orderID int64, from []string, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[orderID]
	if o == nil {
		return false, nil
	}
	for _, fr := range from {
		if o.Status == fr {
			o.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) StatusOf(_ context.Context, orderID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[orderID].Status, nil
}

func (f *fakeStore) ReleaseByOrders(_ context.Context, orderIDs []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return 0, f.releaseErr
	}
	if f.batchBroken {
		return 0, nil
	}
	var n int64
	for _, id := range orderIDs {
		// Mirrors the SQL: only units of orders that are cancelled now.
		if o := f.orders[id]; o == nil || o.Status != models.OrderCancelled {
			continue
		}
		for _, u := range f.unitsByOrd[id] {
			if f.unitStatus[u] == models.StockReserved {
				f.unitStatus[u] = models.StockAvailable
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeStore) ReservedUnitsByOrder(_ context.Context, orderID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, u := range f.unitsByOrd[orderID] {
		if f.unitStatus[u] == models.StockReserved {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) Release(_ context.Context, unitID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unitStatus[unitID] == models.StockReserved {
		f.unitStatus[unitID] = models.StockAvailable
		return true, nil
	}
	return false, nil
}

type recordNotifier struct {
	mu    sync.Mutex
	users []int64
	kinds []string
}

func (r *recordNotifier) Notify(_ context.Context, userID int64, kind string, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	r.kinds = append(r.kinds, kind)
}

func newSweeper(f *fakeStore) *Sweeper {
	return New(f, f, notify.LogNotifier{}, metrics.NewNoop(), Options{
		StaleFallback: 24 * time.Hour,
		BatchSize:     100,
	})
}

func TestSweepCancelsExpiredAndReleases(t *testing.T) {
	f := newFakeStore()
	past := time.Now().Add(-time.Second)
	f.addPending(1, &past, 11, 12)

	report, err := newSweeper(f).SweepExpired(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, int64(1), report.Cancelled)
	assert.Equal(t, int64(2), report.Released)
	assert.Equal(t, models.OrderCancelled, f.orders[1].Status)
	assert.Equal(t, models.StockAvailable, f.unitStatus[11])
	assert.Equal(t, models.StockAvailable, f.unitStatus[12])

	// Expiry safety: the order no longer shows up as a candidate.
	left, _ := f.FindExpiredPending(context.Background(), time.Now(), 100)
	assert.Empty(t, left)
}

func TestSweepPicksUpStaleOrdersWithoutDeadline(t *testing.T) {
	f := newFakeStore()
	f.addPending(2, nil, 21) // legacy order, no expires_at

	report, err := newSweeper(f).SweepExpired(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Cancelled)
	assert.Equal(t, models.OrderCancelled, f.orders[2].Status)
	assert.Equal(t, models.StockAvailable, f.unitStatus[21])
}

func TestSweepLeavesFreshAndPaidOrdersAlone(t *testing.T) {
	f := newFakeStore()
	future := time.Now().Add(10 * time.Minute)
	f.addPending(3, &future, 31)
	past := time.Now().Add(-time.Second)
	f.addPending(4, &past, 41)
	f.orders[4].Status = models.OrderPaid // paid just before the sweep

	report, err := newSweeper(f).SweepExpired(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), report.Cancelled)
	assert.Equal(t, models.OrderPending, f.orders[3].Status)
	assert.Equal(t, models.OrderPaid, f.orders[4].Status)
	assert.Equal(t, models.StockReserved, f.unitStatus[41],
		"a paid order's reservation must survive the sweep")
}

func TestSweepFallsBackWhenBatchAffectsNothing(t *testing.T) {
	f := newFakeStore()
	f.batchBroken = true
	past := time.Now().Add(-time.Second)
	f.addPending(5, &past, 51)
	f.addPending(6, &past, 61, 62)

	report, err := newSweeper(f).SweepExpired(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.Cancelled)
	assert.Equal(t, int64(3), report.Released)
	assert.Equal(t, models.OrderCancelled, f.orders[5].Status)
	assert.Equal(t, models.OrderCancelled, f.orders[6].Status)
}

// Batched cancel lands but batched release errors: units of cancelled orders
// still come back, and orders paid in the race keep theirs.
func TestSweepGuardedReleaseAfterBatchCancel(t *testing.T) {
	f := newFakeStore()
	f.releaseErr = errors.New("driver choked")
	past := time.Now().Add(-time.Second)
	f.addPending(8, &past, 81)

	report, err := newSweeper(f).SweepExpired(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Cancelled)
	assert.Equal(t, int64(1), report.Released)
	assert.Equal(t, models.StockAvailable, f.unitStatus[81])
}

// A payment that lands after the candidate listing but before the batched
// cancel must keep its reservation and must not be told it expired, even
// though the sweeper still passes its id to the release.
func TestSweepKeepsReservationWhenOrderPaysMidSweep(t *testing.T) {
	f := newFakeStore()
	past := time.Now().Add(-time.Second)
	f.addPending(9, &past, 91)
	f.addPending(10, &past, 101)
	f.payDuringCancel = 10

	rec := &recordNotifier{}
	s := New(f, f, rec, metrics.NewNoop(), Options{
		StaleFallback: 24 * time.Hour,
		BatchSize:     100,
	})

	report, err := s.SweepExpired(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, int64(1), report.Cancelled)
	assert.Equal(t, int64(1), report.Released)
	assert.Equal(t, models.OrderCancelled, f.orders[9].Status)
	assert.Equal(t, models.StockAvailable, f.unitStatus[91])
	assert.Equal(t, models.OrderPaid, f.orders[10].Status)
	assert.Equal(t, models.StockReserved, f.unitStatus[101],
		"an order paid mid-sweep must keep its reservation")

	require.Len(t, rec.users, 1, "only the cancelled order's user hears about expiry")
	assert.Equal(t, int64(900), rec.users[0])
	assert.Equal(t, notify.KindOrderExpired, rec.kinds[0])
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFakeStore()
	past := time.Now().Add(-time.Second)
	f.addPending(7, &past, 71)

	s := newSweeper(f)
	_, err := s.SweepExpired(context.Background())
	require.NoError(t, err)

	report, err := s.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Cancelled, "second sweep must be a no-op")
	assert.Equal(t, int64(0), report.Released)
}
