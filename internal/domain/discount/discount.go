// Package discount owns discount eligibility checks, amount calculation, and
// the usage ledger bounding how many times a code may be applied.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no matching active discount exists.
	ErrNotFound = errors.New("discount not found")
	// ErrUsageLimitReached is returned when a discount has exhausted its
	// global usage limit.
	ErrUsageLimitReached = errors.New("discount usage limit reached")
)

// Discount defines a percentage discount and its eligibility constraints.
// Zero UsageLimit / UserUsageLimit means unlimited; a zero MaxDiscountAmount
// means the computed amount is uncapped.
type Discount struct {
	ID                string
	Code              string
	Value             decimal.Decimal // percentage
	MinOrderValue     decimal.Decimal
	MaxDiscountAmount decimal.Decimal
	StartDate         time.Time
	EndDate           time.Time
	IsActive          bool
	UsageLimit        int
	UsedCount         int
	UserUsageLimit    int
}

// Repository provides lookup and usage-counter mutation for discounts.
// IncrementUsage and DecrementUsage must be atomic read-modify-write
// operations; DecrementUsage floors usedCount at zero.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Discount, error)
	// FindByCode performs a case-sensitive exact match filtered to
	// currently-active rows. Returns ErrNotFound when no row matches.
	FindByCode(ctx context.Context, code string) (*Discount, error)
	IncrementUsage(ctx context.Context, id string) error
	DecrementUsage(ctx context.Context, id string) error
	// CountUserUsage counts non-cancelled orders by the user that
	// reference the discount.
	CountUserUsage(ctx context.Context, id, userID string) (int, error)
}
