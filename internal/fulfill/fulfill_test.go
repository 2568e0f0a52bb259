package fulfill

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gvmbt/pvndora-shop/internal/inventory"
	"github.com/gvmbt/pvndora-shop/internal/models"
	"github.com/gvmbt/pvndora-shop/internal/money"
	"github.com/gvmbt/pvndora-shop/internal/payments"
)

type fakeStore struct {
	mu        sync.Mutex
	orders    map[int64]*models.Order
	lines     map[int64]*models.OrderLine
	nextID    int64
	escalated map[int64]string // orderID -> note
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:    make(map[int64]*models.Order),
		lines:     make(map[int64]*models.OrderLine),
		nextID:    1000,
		escalated: make(map[int64]string),
	}
}

func (f *fakeStore) addOrder(id int64, status string, handle string) *models.Order {
	o := &models.Order{ID: id, UserID: 7, Status: status}
	if handle != "" {
		o.PaymentHandle = sql.NullString{String: handle, Valid: true}
	}
	f.orders[id] = o
	return o
}

func (f *fakeStore) addLine(id, orderID int64, fulfillment, status string, qty int, unitID int64) {
	l := &models.OrderLine{ID: id, OrderID: orderID, ProductID: 1,
		Quantity: qty, Fulfillment: fulfillment, Status: status}
	if unitID != 0 {
		l.StockUnitID = sql.NullInt64{Int64: unitID, Valid: true}
	}
	f.lines[id] = l
}

func (f *fakeStore) GetByID(_ context.Context, orderID int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) LinesByOrder(_ context.Context, orderID int64) ([]models.OrderLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OrderLine
	for _, l := range f.lines {
		if l.OrderID == orderID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeStore) Transition(_ context.Context, orderID int64, from []string, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[orderID]
	for _, fr := range from {
		if o.Status == fr {
			o.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) SetLineStatus(_ context.Context, lineID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines[lineID].Status = status
	return nil
}

func (f *fakeStore) SetLineStatusByOrder(_ context.Context, orderID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.lines {
		if l.OrderID == orderID {
			l.Status = status
		}
	}
	return nil
}

func (f *fakeStore) MarkDelivered(_ context.Context, orderID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[orderID].DeliveredAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

func (f *fakeStore) SplitPreorderUnit(_ context.Context, lineID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lines[lineID]
	if l.Quantity <= 1 {
		return lineID, nil
	}
	l.Quantity--
	f.nextID++
	f.lines[f.nextID] = &models.OrderLine{ID: f.nextID, OrderID: l.OrderID,
		ProductID: l.ProductID, Quantity: 1, Fulfillment: l.Fulfillment, Status: l.Status}
	return f.nextID, nil
}

func (f *fakeStore) Escalate(_ context.Context, orderID int64, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[orderID].Status = models.OrderError
	f.escalated[orderID] = note
	return nil
}

type fakeLedger struct {
	mu       sync.Mutex
	nextUnit int64
	empty    bool
	sold     map[int64]int64 // unitID -> lineID
	soldErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{nextUnit: 500, sold: make(map[int64]int64)}
}

func (f *fakeLedger) ReserveOne(_ context.Context, _ int64) (*models.StockUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.empty {
		return nil, errors.New("no stock")
	}
	f.nextUnit++
	return &models.StockUnit{ID: f.nextUnit, Status: models.StockReserved}, nil
}

func (f *fakeLedger) MarkSold(_ context.Context, unitID, lineID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.soldErr != nil {
		return f.soldErr
	}
	f.sold[unitID] = lineID
	return nil
}

type fakeSettler struct {
	mu    sync.Mutex
	calls []int64
}

func (f *fakeSettler) Settle(_ context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, order.ID)
	return nil
}

type fakeGateway struct {
	state string
	err   error
}

func (f *fakeGateway) CreatePayment(_ context.Context, _ int64, _ money.Money, _, _ string) (payments.Handle, error) {
	return payments.Handle{}, errors.New("not used")
}

func (f *fakeGateway) GetInvoiceState(_ context.Context, _ string) (string, error) {
	return f.state, f.err
}

type silentNotifier struct{}

func (silentNotifier) Notify(_ context.Context, _ int64, _ string, _ map[string]string) {}

func TestConfirmPaymentMovesOrderToPaid(t *testing.T) {
	store := newFakeStore()
	store.addOrder(1, models.OrderPending, "inv-1")
	store.addLine(10, 1, models.FulfillInstant, models.LinePending, 1, 501)

	svc := NewService(store, newFakeLedger(), &fakeGateway{state: payments.InvoicePaid},
		&fakeSettler{}, silentNotifier{})

	order, err := svc.ConfirmPayment(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, order.Status)
	assert.Equal(t, models.LinePrepaid, store.lines[10].Status)
}

func TestConfirmPaymentPendingInvoiceLeavesOrderAlone(t *testing.T) {
	store := newFakeStore()
	store.addOrder(1, models.OrderPending, "inv-1")

	svc := NewService(store, newFakeLedger(), &fakeGateway{state: payments.InvoicePending},
		&fakeSettler{}, silentNotifier{})

	order, err := svc.ConfirmPayment(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
}

func TestConfirmPaymentAlreadyPaidIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addOrder(1, models.OrderPaid, "inv-1")

	// The gateway must not even be consulted for a non-pending order.
	svc := NewService(store, newFakeLedger(),
		&fakeGateway{err: errors.New("gateway down")}, &fakeSettler{}, silentNotifier{})

	order, err := svc.ConfirmPayment(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, order.Status)
}

func TestConfirmPaymentWithoutHandle(t *testing.T) {
	store := newFakeStore()
	store.addOrder(1, models.OrderPending, "")

	svc := NewService(store, newFakeLedger(), &fakeGateway{state: payments.InvoicePaid},
		&fakeSettler{}, silentNotifier{})

	_, err := svc.ConfirmPayment(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotPayable)
}

func TestDeliverAllInstantLines(t *testing.T) {
	store := newFakeStore()
	store.addOrder(1, models.OrderPaid, "inv-1")
	store.addLine(10, 1, models.FulfillInstant, models.LinePrepaid, 1, 501)
	store.addLine(11, 1, models.FulfillInstant, models.LinePrepaid, 1, 502)

	ledger := newFakeLedger()
	settler := &fakeSettler{}
	svc := NewService(store, ledger, &fakeGateway{}, settler, silentNotifier{})

	order, err := svc.Deliver(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, models.OrderDelivered, order.Status)
	assert.True(t, store.orders[1].DeliveredAt.Valid)
	assert.Equal(t, int64(10), ledger.sold[501])
	assert.Equal(t, int64(11), ledger.sold[502])
	assert.Equal(t, []int64{1}, settler.calls)
}

func TestDeliverWithOutstandingPreorderIsPartial(t *testing.T) {
	store := newFakeStore()
	store.addOrder(1, models.OrderPaid, "inv-1")
	store.addLine(10, 1, models.FulfillInstant, models.LinePrepaid, 1, 501)
	store.addLine(11, 1, models.FulfillPreorder, models.LinePrepaid, 2, 0)

	settler := &fakeSettler{}
	svc := NewService(store, newFakeLedger(), &fakeGateway{}, settler, silentNotifier{})

	order, err := svc.Deliver(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, models.OrderPartial, order.Status)
	assert.False(t, store.orders[1].DeliveredAt.Valid)
	// Settlement fires on partial delivery too.
	assert.Equal(t, []int64{1}, settler.calls)
}

func TestDeliverRejectsPendingOrder(t *testing.T) {
	store := newFakeStore()
	store.addOrder(1, models.OrderPending, "inv-1")

	svc := NewService(store, newFakeLedger(), &fakeGateway{}, &fakeSettler{}, silentNotifier{})

	_, err := svc.Deliver(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotDeliverable)
}

// A bound unit that is no longer reserved at delivery time means the ledger
// and the order disagree; the order must land on error for a human, not get
// silently part-delivered.
func TestDeliverEscalatesWhenUnitNotReserved(t *testing.T) {
	store := newFakeStore()
	store.addOrder(1, models.OrderPaid, "inv-1")
	store.addLine(10, 1, models.FulfillInstant, models.LinePrepaid, 1, 501)

	ledger := newFakeLedger()
	ledger.soldErr = fmt.Errorf("sell unit 501 for line 10: %w", inventory.ErrInvalidTransition)
	svc := NewService(store, ledger, &fakeGateway{}, &fakeSettler{}, silentNotifier{})

	_, err := svc.Deliver(context.Background(), 1)
	require.ErrorIs(t, err, inventory.ErrInvalidTransition)

	assert.Equal(t, models.OrderError, store.orders[1].Status)
	assert.Contains(t, store.escalated[1], "unit 501")
	assert.Equal(t, models.LinePrepaid, store.lines[10].Status,
		"the line must not be marked delivered")
}

func TestFulfillPreorderUnitSplitsAggregatedLine(t *testing.T) {
	store := newFakeStore()
	store.addOrder(1, models.OrderPartial, "inv-1")
	store.addLine(10, 1, models.FulfillInstant, models.LineDelivered, 1, 501)
	store.addLine(11, 1, models.FulfillPreorder, models.LinePrepaid, 2, 0)

	ledger := newFakeLedger()
	settler := &fakeSettler{}
	svc := NewService(store, ledger, &fakeGateway{}, settler, silentNotifier{})

	order, err := svc.FulfillPreorderUnit(context.Background(), 1, 11)
	require.NoError(t, err)

	// One unit delivered on its own row; the aggregate still owes one.
	assert.Equal(t, models.OrderPartial, order.Status)
	assert.Equal(t, 1, store.lines[11].Quantity)
	assert.Equal(t, models.LinePrepaid, store.lines[11].Status)

	lines, _ := store.LinesByOrder(context.Background(), 1)
	delivered := 0
	for _, l := range lines {
		if l.Status == models.LineDelivered {
			delivered++
		}
	}
	assert.Equal(t, 2, delivered)
	assert.Len(t, ledger.sold, 1)
}

func TestFulfillLastPreorderUnitCompletesOrder(t *testing.T) {
	store := newFakeStore()
	store.addOrder(1, models.OrderPartial, "inv-1")
	store.addLine(10, 1, models.FulfillInstant, models.LineDelivered, 1, 501)
	store.addLine(11, 1, models.FulfillPreorder, models.LinePrepaid, 1, 0)

	svc := NewService(store, newFakeLedger(), &fakeGateway{}, &fakeSettler{}, silentNotifier{})

	order, err := svc.FulfillPreorderUnit(context.Background(), 1, 11)
	require.NoError(t, err)

	assert.Equal(t, models.OrderDelivered, order.Status)
	assert.True(t, store.orders[1].DeliveredAt.Valid)
}

func TestFulfillPreorderUnitWithoutStock(t *testing.T) {
	store := newFakeStore()
	store.addOrder(1, models.OrderPaid, "inv-1")
	store.addLine(11, 1, models.FulfillPreorder, models.LinePrepaid, 1, 0)

	ledger := newFakeLedger()
	ledger.empty = true
	svc := NewService(store, ledger, &fakeGateway{}, &fakeSettler{}, silentNotifier{})

	_, err := svc.FulfillPreorderUnit(context.Background(), 1, 11)
	assert.ErrorIs(t, err, ErrLineNotFulfillable)
	assert.Equal(t, models.LinePrepaid, store.lines[11].Status)
}
