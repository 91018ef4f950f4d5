package payment

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanghm/orderflow/internal/domain/discount"
	"github.com/quanghm/orderflow/internal/domain/inventory"
	"github.com/quanghm/orderflow/internal/domain/notification"
	"github.com/quanghm/orderflow/internal/domain/order"
	"github.com/quanghm/orderflow/internal/domain/shipping"
	"github.com/quanghm/orderflow/internal/domain/wallet"
)

// --- minimal state machine plumbing ---

type memOrders struct {
	orders  map[string]*order.Order
	markers map[string]bool
}

func newMemOrders(orders ...*order.Order) *memOrders {
	m := &memOrders{orders: make(map[string]*order.Order), markers: make(map[string]bool)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) Create(_ context.Context, o *order.Order) error {
	m.orders[o.ID] = o
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id string, s order.Status) error {
	m.orders[id].Status = s
	return nil
}

func (m *memOrders) UpdatePaymentStatus(_ context.Context, id string, ps order.PaymentStatus) error {
	m.orders[id].PaymentStatus = ps
	return nil
}

func (m *memOrders) MarkSideEffect(_ context.Context, orderID, action string) (bool, error) {
	key := orderID + "/" + action
	if m.markers[key] {
		return false, nil
	}
	m.markers[key] = true
	return true, nil
}

func (m *memOrders) ClearSideEffect(_ context.Context, orderID, action string) (bool, error) {
	key := orderID + "/" + action
	if !m.markers[key] {
		return false, nil
	}
	delete(m.markers, key)
	return true, nil
}

type noopInventory struct{}

func (noopInventory) ReserveStock(context.Context, string, int) error        { return nil }
func (noopInventory) RestoreStock(context.Context, string, int, int64) error { return nil }
func (noopInventory) AddSold(context.Context, string, int, int64) error      { return nil }
func (noopInventory) SubSold(context.Context, string, int) error             { return nil }

type noopDiscounts struct{}

func (noopDiscounts) GetByID(context.Context, string) (*discount.Discount, error) {
	return nil, discount.ErrNotFound
}

func (noopDiscounts) FindByCode(context.Context, string) (*discount.Discount, error) {
	return nil, discount.ErrNotFound
}
func (noopDiscounts) IncrementUsage(context.Context, string) error { return nil }
func (noopDiscounts) DecrementUsage(context.Context, string) error { return nil }
func (noopDiscounts) CountUserUsage(context.Context, string, string) (int, error) {
	return 0, nil
}

type noopWallets struct{}

func (noopWallets) GetByUser(context.Context, string) (*wallet.Wallet, error) {
	return nil, wallet.ErrNotFound
}

func (noopWallets) Apply(_ context.Context, _ string, fn wallet.ApplyFunc) (*wallet.Transaction, error) {
	tx, err := fn(decimal.Zero)
	return &tx, err
}

type noopShipments struct{}

func (noopShipments) ExistsForOrder(context.Context, string) (bool, error) { return false, nil }
func (noopShipments) Create(context.Context, *shipping.Shipment) error     { return nil }
func (noopShipments) ListUnshippedConfirmed(context.Context, int) ([]string, error) {
	return nil, nil
}

type noopCreator struct{}

func (noopCreator) Create(context.Context, shipping.CreateRequest) (string, error) {
	return "", nil
}

// --- sessions ---

type memSessions struct {
	byID map[string]string
}

func (m *memSessions) Issue(_ context.Context, orderID string, _ time.Duration) (string, error) {
	id := "sess-" + orderID
	m.byID[id] = orderID
	return id, nil
}

func (m *memSessions) Resolve(_ context.Context, sessionID string) (string, error) {
	orderID, ok := m.byID[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return orderID, nil
}

// --- fixture ---

type fixture struct {
	orders   *memOrders
	sessions *memSessions
	verifier *Verifier
	handler  *CallbackHandler
}

func newFixture(orders ...*order.Order) *fixture {
	f := &fixture{
		orders:   newMemOrders(orders...),
		sessions: &memSessions{byID: make(map[string]string)},
		verifier: NewVerifier([]byte("test-secret")),
	}
	sm := order.NewStateMachine(
		f.orders,
		inventory.NewBookkeeper(noopInventory{}, 0),
		discount.NewLedger(noopDiscounts{}),
		wallet.NewLedger(noopWallets{}),
		noopShipments{},
		noopCreator{},
		notification.LogSender{},
		decimal.Zero,
	)
	f.handler = NewCallbackHandler(f.verifier, f.sessions, sm)
	return f
}

func (f *fixture) signedParams(sessionID, resultCode string) url.Values {
	params := url.Values{}
	params.Set(ParamSession, sessionID)
	params.Set(ParamResult, resultCode)
	params.Set("amount", "215000")
	params.Set(SignatureParam, f.verifier.Sign(params))
	return params
}

func pendingOrder(id string) *order.Order {
	return &order.Order{ID: id, Status: order.StatusPending, PaymentStatus: order.PaymentPending}
}

// --- tests ---

func TestVerifier(t *testing.T) {
	v := NewVerifier([]byte("secret"))
	params := url.Values{}
	params.Set("a", "1")
	params.Set("b", "two")
	params.Set(SignatureParam, v.Sign(params))

	assert.True(t, v.Verify(params))

	params.Set("a", "2")
	assert.False(t, v.Verify(params), "tampered parameter")

	params.Del(SignatureParam)
	assert.False(t, v.Verify(params), "missing signature")
}

func TestVerifier_SignatureExcludedFromDigest(t *testing.T) {
	v := NewVerifier([]byte("secret"))
	params := url.Values{}
	params.Set("a", "1")

	sig := v.Sign(params)
	params.Set(SignatureParam, sig)
	assert.Equal(t, sig, v.Sign(params))
}

func TestHandle_Success(t *testing.T) {
	f := newFixture(pendingOrder("o1"))
	ctx := context.Background()
	sid, err := f.sessions.Issue(ctx, "o1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.handler.Handle(ctx, f.signedParams(sid, ResultSuccess)))
	assert.Equal(t, order.PaymentPaid, f.orders.orders["o1"].PaymentStatus)
}

func TestHandle_DuplicateDelivery(t *testing.T) {
	f := newFixture(pendingOrder("o1"))
	ctx := context.Background()
	sid, err := f.sessions.Issue(ctx, "o1", time.Minute)
	require.NoError(t, err)

	params := f.signedParams(sid, ResultSuccess)
	require.NoError(t, f.handler.Handle(ctx, params))
	require.NoError(t, f.handler.Handle(ctx, params), "duplicate IPN is a no-op")
	assert.Equal(t, order.PaymentPaid, f.orders.orders["o1"].PaymentStatus)
}

func TestHandle_Cancelled(t *testing.T) {
	f := newFixture(pendingOrder("o1"))
	ctx := context.Background()
	sid, err := f.sessions.Issue(ctx, "o1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.handler.Handle(ctx, f.signedParams(sid, ResultCancelled)))
	assert.Equal(t, order.PaymentCancelled, f.orders.orders["o1"].PaymentStatus)
	assert.Equal(t, order.StatusCancelled, f.orders.orders["o1"].Status)
}

func TestHandle_Failure(t *testing.T) {
	f := newFixture(pendingOrder("o1"))
	ctx := context.Background()
	sid, err := f.sessions.Issue(ctx, "o1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.handler.Handle(ctx, f.signedParams(sid, "97")))
	assert.Equal(t, order.PaymentFailed, f.orders.orders["o1"].PaymentStatus)
}

func TestHandle_BadSignature(t *testing.T) {
	f := newFixture(pendingOrder("o1"))
	ctx := context.Background()
	sid, err := f.sessions.Issue(ctx, "o1", time.Minute)
	require.NoError(t, err)

	params := f.signedParams(sid, ResultSuccess)
	params.Set("amount", "1")

	require.ErrorIs(t, f.handler.Handle(ctx, params), ErrBadSignature)
	assert.Equal(t, order.PaymentPending, f.orders.orders["o1"].PaymentStatus, "no state change")
}

func TestHandle_UnknownSession(t *testing.T) {
	f := newFixture(pendingOrder("o1"))

	err := f.handler.Handle(context.Background(), f.signedParams("expired", ResultSuccess))
	require.ErrorIs(t, err, ErrSessionNotFound)
}
