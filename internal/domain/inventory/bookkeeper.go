// Package inventory owns all stock and sold-count mutation. The two counters
// are independent: stock tracks reservable supply, soldCount tracks fulfilled
// sales. Every other component routes inventory changes through Bookkeeper so
// both counters stay independently auditable.
package inventory

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrOutOfStock is returned when a reservation exceeds current stock.
	ErrOutOfStock = errors.New("out of stock")
	// ErrCounterCeiling is returned when a counter would exceed the
	// configured ceiling.
	ErrCounterCeiling = errors.New("counter ceiling exceeded")
	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrNotFound is returned when the product does not exist.
	ErrNotFound = errors.New("product not found")
)

// DefaultCeiling bounds stock and soldCount when no ceiling is configured.
const DefaultCeiling = int64(1_000_000_000)

// Repository provides atomic read-modify-write counter operations.
// Implementations must apply each operation as a single conditional update
// (row lock or compare-and-swap), never a bare read-then-write.
type Repository interface {
	// ReserveStock decrements stock by qty and recomputes availability.
	// Returns ErrOutOfStock when qty exceeds current stock.
	ReserveStock(ctx context.Context, productID string, qty int) error
	// RestoreStock increments stock by qty up to ceiling and recomputes
	// availability. Returns ErrCounterCeiling past the ceiling.
	RestoreStock(ctx context.Context, productID string, qty int, ceiling int64) error
	// AddSold increments soldCount by qty up to ceiling.
	AddSold(ctx context.Context, productID string, qty int, ceiling int64) error
	// SubSold decrements soldCount by qty, flooring at zero.
	SubSold(ctx context.Context, productID string, qty int) error
}

// Bookkeeper validates and applies inventory mutations.
type Bookkeeper struct {
	repo    Repository
	ceiling int64
}

// NewBookkeeper creates a Bookkeeper. A non-positive ceiling falls back to
// DefaultCeiling.
func NewBookkeeper(repo Repository, ceiling int64) *Bookkeeper {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Bookkeeper{repo: repo, ceiling: ceiling}
}

// Reserve takes qty units out of reservable stock.
func (b *Bookkeeper) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if err := b.repo.ReserveStock(ctx, productID, qty); err != nil {
		return errors.Wrap(err, "reserve stock")
	}
	return nil
}

// Restore puts qty units back into reservable stock. Unreserve is always
// legal up to the counter ceiling.
func (b *Bookkeeper) Restore(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if err := b.repo.RestoreStock(ctx, productID, qty, b.ceiling); err != nil {
		return errors.Wrap(err, "restore stock")
	}
	return nil
}

// MarkSold records qty units as fulfilled sales.
func (b *Bookkeeper) MarkSold(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if err := b.repo.AddSold(ctx, productID, qty, b.ceiling); err != nil {
		return errors.Wrap(err, "mark sold")
	}
	return nil
}

// UnmarkSold reverses fulfilled sales, flooring soldCount at zero.
func (b *Bookkeeper) UnmarkSold(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if err := b.repo.SubSold(ctx, productID, qty); err != nil {
		return errors.Wrap(err, "unmark sold")
	}
	return nil
}
