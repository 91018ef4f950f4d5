package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quanghm/orderflow/internal/domain/cart"
	"github.com/quanghm/orderflow/internal/domain/discount"
	"github.com/quanghm/orderflow/internal/domain/inventory"
	"github.com/quanghm/orderflow/internal/domain/notification"
	"github.com/quanghm/orderflow/internal/domain/product"
	"github.com/quanghm/orderflow/internal/domain/shipping"
)

// Grams assumed per item when quoting shipping weight.
const defaultItemWeightGrams = 500

// CreateRequest holds the input for checking out a cart.
type CreateRequest struct {
	CartID       string
	UserID       string // empty for guest checkout
	DiscountCode string
	Recipient    Recipient
}

// CreationSaga converts a cart into a durable order: it filters chosen lines
// to currently sellable ones, reserves inventory, applies an optional
// discount, quotes shipping, persists the order with its line snapshot, and
// clears the consumed cart lines. External calls (fee quote, notification)
// are degraded to safe defaults on failure and never abort the saga.
type CreationSaga struct {
	carts        cart.Repository
	products     product.Repository
	discounts    *discount.Ledger
	inventory    *inventory.Bookkeeper
	quoter       shipping.FeeQuoteProvider
	notifier     notification.Sender
	orders       Repository
	fromDistrict int
}

// NewCreationSaga creates a CreationSaga with its collaborators.
// fromDistrict is the warehouse district used as the shipping origin.
func NewCreationSaga(
	carts cart.Repository,
	products product.Repository,
	discounts *discount.Ledger,
	bookkeeper *inventory.Bookkeeper,
	quoter shipping.FeeQuoteProvider,
	notifier notification.Sender,
	orders Repository,
	fromDistrict int,
) *CreationSaga {
	return &CreationSaga{
		carts:        carts,
		products:     products,
		discounts:    discounts,
		inventory:    bookkeeper,
		quoter:       quoter,
		notifier:     notifier,
		orders:       orders,
		fromDistrict: fromDistrict,
	}
}

// candidate pairs a cart line with its product during filtering.
type candidate struct {
	line cart.Line
	prod product.Product
}

// CreateOrder runs the checkout saga against the given cart.
func (s *CreationSaga) CreateOrder(ctx context.Context, req CreateRequest) (*Order, error) {
	lg := zctx.From(ctx)

	if _, err := s.carts.GetByID(ctx, req.CartID); err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, errors.Wrap(err, "load cart")
	}

	lines, err := s.carts.Lines(ctx, req.CartID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart lines")
	}

	chosen := lines[:0]
	for _, l := range lines {
		if l.Chosen {
			chosen = append(chosen, l)
		}
	}
	if len(chosen) == 0 {
		return nil, ErrNoSellableItems
	}

	candidates, err := s.filterSellable(ctx, chosen)
	if err != nil {
		return nil, err
	}

	// Reserve before persisting: the conditional stock update re-validates
	// each line immediately before reservation, so two concurrent checkouts
	// cannot double-spend the same stock. A line losing the race is dropped
	// like any other unsellable line.
	reserved := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if err := s.inventory.Reserve(ctx, c.line.ProductID, c.line.Quantity); err != nil {
			if errors.Is(err, inventory.ErrOutOfStock) {
				lg.Info("dropping line, stock taken concurrently",
					zap.String("product_id", c.line.ProductID))
				continue
			}
			s.releaseReservations(ctx, reserved)
			return nil, errors.Wrap(err, "reserve inventory")
		}
		reserved = append(reserved, c)
	}
	if len(reserved) == 0 {
		return nil, ErrNoSellableItems
	}

	subtotal := decimal.Zero
	for _, c := range reserved {
		subtotal = subtotal.Add(c.line.TotalPrice)
	}

	discountID, discountAmount := s.applyDiscount(ctx, req, subtotal)
	fee := s.quoteFee(ctx, req.Recipient, reserved, subtotal)
	total := subtotal.Sub(discountAmount).Add(fee)

	o := &Order{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Recipient:     req.Recipient,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		DiscountID:    discountID,
		TotalDiscount: discountAmount,
		ShippingFee:   fee,
		Total:         total,
	}
	consumed := make([]string, 0, len(reserved))
	for _, c := range reserved {
		o.Lines = append(o.Lines, Line{
			ID:          uuid.New().String(),
			OrderID:     o.ID,
			ProductID:   c.line.ProductID,
			ProductName: c.prod.Name,
			Quantity:    c.line.Quantity,
			UnitPrice:   c.line.UnitPrice,
			TotalPrice:  c.line.TotalPrice,
		})
		consumed = append(consumed, c.line.ID)
	}

	if err := s.orders.Create(ctx, o); err != nil {
		s.releaseReservations(ctx, reserved)
		return nil, errors.Wrap(err, "persist order")
	}

	// The usage increment happens only after the order row is durable, so a
	// persistence failure cannot leave a phantom increment behind.
	if discountID != "" {
		if err := s.discounts.IncrementUsage(ctx, discountID); err != nil {
			lg.Error("discount usage increment failed",
				zap.String("discount_id", discountID), zap.Error(err))
		}
	}

	// Only lines that became order lines leave the cart; unchosen and
	// unsellable lines stay untouched.
	if err := s.carts.DeleteLines(ctx, req.CartID, consumed); err != nil {
		lg.Error("clearing consumed cart lines failed",
			zap.String("cart_id", req.CartID), zap.Error(err))
	}

	if err := s.notifier.SendOrderConfirmation(ctx, buildMessage(o)); err != nil {
		lg.Warn("order confirmation failed", zap.String("order_id", o.ID), zap.Error(err))
	}

	return o, nil
}

// filterSellable drops lines whose product is unavailable, inactive, or short
// on stock. Dropping is silent; only an empty result is an error.
func (s *CreationSaga) filterSellable(ctx context.Context, lines []cart.Line) ([]candidate, error) {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	out := make([]candidate, 0, len(lines))
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok || !p.Sellable(l.Quantity) {
			continue
		}
		out = append(out, candidate{line: l, prod: p})
	}
	if len(out) == 0 {
		return nil, ErrNoSellableItems
	}
	return out, nil
}

// applyDiscount resolves and checks the requested code. Any failure to apply
// degrades silently to "no discount".
func (s *CreationSaga) applyDiscount(ctx context.Context, req CreateRequest, subtotal decimal.Decimal) (string, decimal.Decimal) {
	if req.DiscountCode == "" || req.UserID == "" {
		return "", decimal.Zero
	}
	lg := zctx.From(ctx)

	d, err := s.discounts.FindByCode(ctx, req.DiscountCode)
	if err != nil {
		lg.Info("discount not applied", zap.String("code", req.DiscountCode), zap.Error(err))
		return "", decimal.Zero
	}
	ok, err := s.discounts.CanApply(ctx, d.ID, req.UserID, subtotal)
	if err != nil || !ok {
		lg.Info("discount not applicable",
			zap.String("code", req.DiscountCode), zap.Error(err))
		return "", decimal.Zero
	}
	return d.ID, discount.Amount(d, subtotal)
}

// quoteFee asks the external provider for a shipping fee, defaulting to zero
// when the quote fails.
func (s *CreationSaga) quoteFee(ctx context.Context, to Recipient, reserved []candidate, subtotal decimal.Decimal) decimal.Decimal {
	weight := 0
	for _, c := range reserved {
		weight += c.line.Quantity * defaultItemWeightGrams
	}
	fee, err := s.quoter.Quote(ctx, shipping.QuoteRequest{
		FromDistrict:   s.fromDistrict,
		ToDistrict:     to.District,
		ToWard:         to.Ward,
		WeightGrams:    weight,
		InsuranceValue: subtotal,
	})
	if err != nil {
		zctx.From(ctx).Warn("fee quote failed, defaulting to zero", zap.Error(err))
		return decimal.Zero
	}
	return fee
}

func (s *CreationSaga) releaseReservations(ctx context.Context, reserved []candidate) {
	lg := zctx.From(ctx)
	for _, c := range reserved {
		if err := s.inventory.Restore(ctx, c.line.ProductID, c.line.Quantity); err != nil {
			lg.Error("releasing reservation failed",
				zap.String("product_id", c.line.ProductID), zap.Error(err))
		}
	}
}

func buildMessage(o *Order) notification.OrderMessage {
	msg := notification.OrderMessage{
		OrderID:   o.ID,
		Recipient: o.Recipient.Name,
		Email:     o.Recipient.Email,
		Total:     o.Total,
	}
	for _, l := range o.Lines {
		msg.Lines = append(msg.Lines, notification.LineSummary{
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			TotalPrice:  l.TotalPrice,
		})
	}
	return msg
}
