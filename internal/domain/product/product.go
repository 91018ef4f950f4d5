package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents the inventory facet of a catalog item: the fields the
// fulfillment engine reads and the counters it mutates.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Stock     int64
	SoldCount int64
	Available bool
	IsActive  bool
}

// Sellable reports whether the product can be put on an order right now
// at the requested quantity.
func (p *Product) Sellable(qty int) bool {
	return p.Available && p.IsActive && int64(qty) <= p.Stock
}

// Repository defines read operations for the product inventory facet.
// Counter mutation goes through inventory.Bookkeeper, never through here.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
