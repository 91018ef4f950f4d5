package order

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quanghm/orderflow/internal/domain/cart"
	"github.com/quanghm/orderflow/internal/domain/discount"
	"github.com/quanghm/orderflow/internal/domain/inventory"
	"github.com/quanghm/orderflow/internal/domain/notification"
	"github.com/quanghm/orderflow/internal/domain/product"
	"github.com/quanghm/orderflow/internal/domain/shipping"
	"github.com/quanghm/orderflow/internal/domain/wallet"
)

// --- order repository ---

type memOrders struct {
	mu        sync.Mutex
	orders    map[string]*Order
	markers   map[string]bool
	createErr error
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]*Order), markers: make(map[string]bool)}
}

func (m *memOrders) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id string, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = s
	return nil
}

func (m *memOrders) UpdatePaymentStatus(_ context.Context, id string, ps PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentStatus = ps
	return nil
}

func (m *memOrders) MarkSideEffect(_ context.Context, orderID, action string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := orderID + "/" + action
	if m.markers[key] {
		return false, nil
	}
	m.markers[key] = true
	return true, nil
}

func (m *memOrders) ClearSideEffect(_ context.Context, orderID, action string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := orderID + "/" + action
	if !m.markers[key] {
		return false, nil
	}
	delete(m.markers, key)
	return true, nil
}

// --- inventory ---

type memInventory struct {
	stock map[string]int64
	sold  map[string]int64
}

func newMemInventory() *memInventory {
	return &memInventory{stock: make(map[string]int64), sold: make(map[string]int64)}
}

func (m *memInventory) ReserveStock(_ context.Context, id string, qty int) error {
	s, ok := m.stock[id]
	if !ok {
		return inventory.ErrNotFound
	}
	if int64(qty) > s {
		return inventory.ErrOutOfStock
	}
	m.stock[id] = s - int64(qty)
	return nil
}

func (m *memInventory) RestoreStock(_ context.Context, id string, qty int, ceiling int64) error {
	if m.stock[id]+int64(qty) > ceiling {
		return inventory.ErrCounterCeiling
	}
	m.stock[id] += int64(qty)
	return nil
}

func (m *memInventory) AddSold(_ context.Context, id string, qty int, ceiling int64) error {
	if m.sold[id]+int64(qty) > ceiling {
		return inventory.ErrCounterCeiling
	}
	m.sold[id] += int64(qty)
	return nil
}

func (m *memInventory) SubSold(_ context.Context, id string, qty int) error {
	m.sold[id] -= int64(qty)
	if m.sold[id] < 0 {
		m.sold[id] = 0
	}
	return nil
}

// --- discounts ---

type memDiscounts struct {
	byID      map[string]*discount.Discount
	userUsage map[string]int
}

func newMemDiscounts(discounts ...*discount.Discount) *memDiscounts {
	m := &memDiscounts{byID: make(map[string]*discount.Discount), userUsage: make(map[string]int)}
	for _, d := range discounts {
		m.byID[d.ID] = d
	}
	return m
}

func (m *memDiscounts) GetByID(_ context.Context, id string) (*discount.Discount, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, discount.ErrNotFound
	}
	return d, nil
}

func (m *memDiscounts) FindByCode(_ context.Context, code string) (*discount.Discount, error) {
	for _, d := range m.byID {
		if d.Code == code && d.IsActive {
			return d, nil
		}
	}
	return nil, discount.ErrNotFound
}

func (m *memDiscounts) IncrementUsage(_ context.Context, id string) error {
	m.byID[id].UsedCount++
	return nil
}

func (m *memDiscounts) DecrementUsage(_ context.Context, id string) error {
	if d := m.byID[id]; d.UsedCount > 0 {
		d.UsedCount--
	}
	return nil
}

func (m *memDiscounts) CountUserUsage(_ context.Context, id, userID string) (int, error) {
	return m.userUsage[id+"/"+userID], nil
}

// --- wallets ---

type memWallets struct {
	wallets map[string]*wallet.Wallet
	ledger  []wallet.Transaction
}

func newMemWallets() *memWallets {
	return &memWallets{wallets: make(map[string]*wallet.Wallet)}
}

func (m *memWallets) GetByUser(_ context.Context, userID string) (*wallet.Wallet, error) {
	w, ok := m.wallets[userID]
	if !ok {
		return nil, wallet.ErrNotFound
	}
	return w, nil
}

func (m *memWallets) Apply(_ context.Context, userID string, fn wallet.ApplyFunc) (*wallet.Transaction, error) {
	w, ok := m.wallets[userID]
	if !ok {
		w = &wallet.Wallet{ID: uuid.New().String(), UserID: userID, Balance: decimal.Zero}
		m.wallets[userID] = w
	}
	tx, err := fn(w.Balance)
	if err != nil {
		return nil, err
	}
	tx.ID = uuid.New().String()
	tx.WalletID = w.ID
	w.Balance = tx.BalanceAfter
	m.ledger = append(m.ledger, tx)
	return &tx, nil
}

// --- shipments ---

type memShipments struct {
	records []shipping.Shipment
}

func (m *memShipments) ExistsForOrder(_ context.Context, orderID string) (bool, error) {
	for _, s := range m.records {
		if s.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memShipments) Create(_ context.Context, s *shipping.Shipment) error {
	m.records = append(m.records, *s)
	return nil
}

func (m *memShipments) ListUnshippedConfirmed(_ context.Context, _ int) ([]string, error) {
	return nil, nil
}

type stubCreator struct {
	calls int
	err   error
}

func (s *stubCreator) Create(_ context.Context, _ shipping.CreateRequest) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "SHIP-REF", nil
}

type stubQuoter struct {
	fee decimal.Decimal
	err error
}

func (s *stubQuoter) Quote(_ context.Context, _ shipping.QuoteRequest) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.fee, nil
}

// --- notifications ---

type stubNotifier struct {
	confirmations int
	cancellations int
	err           error
}

func (s *stubNotifier) SendOrderConfirmation(_ context.Context, _ notification.OrderMessage) error {
	s.confirmations++
	return s.err
}

func (s *stubNotifier) SendOrderCancellation(_ context.Context, _ notification.OrderMessage) error {
	s.cancellations++
	return s.err
}

// --- carts ---

type memCarts struct {
	carts map[string]*cart.Cart
	lines map[string]*cart.Line
}

func newMemCarts() *memCarts {
	return &memCarts{carts: make(map[string]*cart.Cart), lines: make(map[string]*cart.Line)}
}

func (m *memCarts) addCart(c *cart.Cart) *cart.Cart {
	c.ID = uuid.New().String()
	m.carts[c.ID] = c
	return c
}

func (m *memCarts) addLine(cartID, productID string, qty int, price int64, chosen bool) *cart.Line {
	unit := decimal.NewFromInt(price)
	l := &cart.Line{
		ID:         uuid.New().String(),
		CartID:     cartID,
		ProductID:  productID,
		Quantity:   qty,
		Chosen:     chosen,
		UnitPrice:  unit,
		TotalPrice: unit.Mul(decimal.NewFromInt(int64(qty))),
	}
	m.lines[l.ID] = l
	return l
}

func (m *memCarts) GetByID(_ context.Context, id string) (*cart.Cart, error) {
	c, ok := m.carts[id]
	if !ok {
		return nil, cart.ErrNotFound
	}
	return c, nil
}

func (m *memCarts) GetOrCreateByUser(_ context.Context, userID string) (*cart.Cart, error) {
	for _, c := range m.carts {
		if c.UserID == userID {
			return c, nil
		}
	}
	return m.addCart(&cart.Cart{UserID: userID}), nil
}

func (m *memCarts) FindByGuestToken(_ context.Context, token string) (*cart.Cart, error) {
	for _, c := range m.carts {
		if c.GuestToken == token {
			return c, nil
		}
	}
	return nil, cart.ErrNotFound
}

func (m *memCarts) Lines(_ context.Context, cartID string) ([]cart.Line, error) {
	var out []cart.Line
	for _, l := range m.lines {
		if l.CartID == cartID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memCarts) AddQuantity(_ context.Context, lineID string, qty int) error {
	l := m.lines[lineID]
	l.Quantity += qty
	l.TotalPrice = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
	return nil
}

func (m *memCarts) MoveLine(_ context.Context, lineID, toCartID string) error {
	m.lines[lineID].CartID = toCartID
	return nil
}

func (m *memCarts) DeleteLines(_ context.Context, cartID string, lineIDs []string) error {
	for _, id := range lineIDs {
		if l, ok := m.lines[id]; ok && l.CartID == cartID {
			delete(m.lines, id)
		}
	}
	return nil
}

func (m *memCarts) DeleteCart(_ context.Context, cartID string) error {
	delete(m.carts, cartID)
	return nil
}

// --- products ---

type memProducts struct {
	byID map[string]*product.Product
}

func newMemProducts(products ...product.Product) *memProducts {
	m := &memProducts{byID: make(map[string]*product.Product)}
	for i := range products {
		m.byID[products[i].ID] = &products[i]
	}
	return m
}

func (m *memProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *memProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

var errBoom = errors.New("boom")
