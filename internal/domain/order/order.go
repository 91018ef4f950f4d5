// Package order holds the order aggregate and the two components that mutate
// it: the creation saga and the status state machine.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// PaymentStatus is the settlement state of an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

var (
	// ErrNotFound is returned when the order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrCartNotFound is returned when the checkout cart does not exist.
	ErrCartNotFound = errors.New("cart not found")
	// ErrNoSellableItems is returned when no chosen cart line survives the
	// sellability filter.
	ErrNoSellableItems = errors.New("no sellable items in cart")
	// ErrInvalidTransition is returned for an explicitly requested
	// transition the state machine does not define from the current state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotOwner is returned when a user cancels an order they do not own.
	ErrNotOwner = errors.New("order does not belong to user")
)

// Recipient holds delivery contact data. For guest checkout it is the only
// identity attached to the order.
type Recipient struct {
	Name     string
	Phone    string
	Email    string
	Address  string
	District int
	Ward     string
}

// Line is an immutable snapshot of a cart line at order-creation time.
type Line struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
}

// Order is created once by the creation saga and mutated only by the state
// machine thereafter. It is never deleted.
type Order struct {
	ID            string
	UserID        string // empty for guest checkout
	Recipient     Recipient
	Lines         []Line
	Status        Status
	PaymentStatus PaymentStatus
	DiscountID    string
	TotalDiscount decimal.Decimal
	ShippingFee   decimal.Decimal
	Total         decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Subtotal is the sum of line totals before discount and shipping.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.TotalPrice)
	}
	return sum
}

// Repository defines persistence operations for orders, their line snapshots,
// and the per-order side-effect markers guarding compensating actions.
type Repository interface {
	// Create persists the order and its line snapshot atomically.
	Create(ctx context.Context, o *Order) error
	// GetByID loads an order with its lines. Returns ErrNotFound.
	GetByID(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, s Status) error
	UpdatePaymentStatus(ctx context.Context, id string, ps PaymentStatus) error
	// MarkSideEffect records that the named compensating action ran for the
	// order. Returns false when the marker already existed, in which case
	// the action must not run again.
	MarkSideEffect(ctx context.Context, orderID, action string) (bool, error)
	// ClearSideEffect removes a marker so the action may run again after a
	// reversal. Returns false when no marker existed.
	ClearSideEffect(ctx context.Context, orderID, action string) (bool, error)
}
