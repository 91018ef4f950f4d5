// Package shipping defines the external shipping collaborators (fee quoting,
// shipment creation) and the shipment record that guards re-entrant triggers.
package shipping

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no shipment exists for an order.
var ErrNotFound = errors.New("shipment not found")

// QuoteRequest describes a parcel for fee quotation.
type QuoteRequest struct {
	FromDistrict   int
	ToDistrict     int
	ToWard         string
	WeightGrams    int
	LengthCM       int
	WidthCM        int
	HeightCM       int
	InsuranceValue decimal.Decimal
}

// FeeQuoteProvider quotes a shipping fee for a destination. Callers treat a
// failed quote as degraded and fall back to a zero fee.
type FeeQuoteProvider interface {
	Quote(ctx context.Context, req QuoteRequest) (decimal.Decimal, error)
}

// CreateRequest carries everything the carrier needs to create a shipment.
type CreateRequest struct {
	OrderID       string
	RecipientName string
	Phone         string
	Address       string
	District      int
	Ward          string
	CODAmount     decimal.Decimal
	Items         []Item
}

// Item is one parcel line.
type Item struct {
	Name     string
	Quantity int
}

// ShipmentCreator creates a shipment with the external carrier and returns
// its reference. The engine guarantees at most one call per order by checking
// for an existing shipment record first.
type ShipmentCreator interface {
	Create(ctx context.Context, req CreateRequest) (string, error)
}

// Shipment records that a shipment was triggered for an order. At most one
// exists per order.
type Shipment struct {
	ID        string
	OrderID   string
	Reference string
	CreatedAt time.Time
}

// Repository persists shipment records.
type Repository interface {
	ExistsForOrder(ctx context.Context, orderID string) (bool, error)
	Create(ctx context.Context, s *Shipment) error
	// ListUnshippedConfirmed returns IDs of confirmed orders with no
	// shipment record yet, for the out-of-band retry job.
	ListUnshippedConfirmed(ctx context.Context, limit int) ([]string, error)
}

// StaticQuoter quotes a flat fee regardless of destination. Used when no
// carrier integration is configured.
type StaticQuoter struct {
	Fee decimal.Decimal
}

// Quote returns the configured flat fee.
func (q StaticQuoter) Quote(_ context.Context, _ QuoteRequest) (decimal.Decimal, error) {
	return q.Fee, nil
}

// StubCreator issues locally generated references instead of calling a
// carrier. Used when no carrier integration is configured.
type StubCreator struct{}

// Create returns a reference derived from the order ID.
func (StubCreator) Create(_ context.Context, req CreateRequest) (string, error) {
	return "local-" + req.OrderID, nil
}
