package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Ledger checks discount availability, computes amounts, and tracks usage.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger creates a Ledger backed by the given Repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// CanApply reports whether the discount may be applied by the user to an
// order with the given subtotal. Checks run in order: existence, active flag
// and date window, global usage limit, per-user usage limit, minimum order
// value. A missing discount yields (false, nil); only infrastructure
// failures surface as errors.
func (l *Ledger) CanApply(ctx context.Context, discountID, userID string, subtotal decimal.Decimal) (bool, error) {
	d, err := l.repo.GetByID(ctx, discountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "get discount")
	}

	now := l.now()
	if !d.IsActive || now.Before(d.StartDate) || now.After(d.EndDate) {
		return false, nil
	}

	if d.UsageLimit > 0 && d.UsedCount >= d.UsageLimit {
		return false, nil
	}

	if d.UserUsageLimit > 0 {
		used, err := l.repo.CountUserUsage(ctx, discountID, userID)
		if err != nil {
			return false, errors.Wrap(err, "count user usage")
		}
		if used >= d.UserUsageLimit {
			return false, nil
		}
	}

	return subtotal.GreaterThanOrEqual(d.MinOrderValue), nil
}

// CalculateAmount computes the discount amount for the given subtotal:
// subtotal × value / 100, capped at MaxDiscountAmount when set. Returns zero
// for non-positive subtotals or subtotals below the minimum order value.
func (l *Ledger) CalculateAmount(ctx context.Context, discountID string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	d, err := l.repo.GetByID(ctx, discountID)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "get discount")
	}
	return Amount(d, subtotal), nil
}

// Amount is the pure calculation behind CalculateAmount.
func Amount(d *Discount, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() || subtotal.LessThan(d.MinOrderValue) {
		return decimal.Zero
	}
	amount := subtotal.Mul(d.Value).Div(hundred)
	if d.MaxDiscountAmount.IsPositive() && amount.GreaterThan(d.MaxDiscountAmount) {
		amount = d.MaxDiscountAmount
	}
	return amount.Round(2)
}

// IncrementUsage bumps the global used counter after an order referencing
// the discount has been durably persisted.
func (l *Ledger) IncrementUsage(ctx context.Context, discountID string) error {
	if err := l.repo.IncrementUsage(ctx, discountID); err != nil {
		return errors.Wrap(err, "increment usage")
	}
	return nil
}

// DecrementUsage rolls back one use on order cancellation, flooring at zero.
// Callers guard against double invocation per order with a side-effect
// marker; the ledger itself only guarantees the floor.
func (l *Ledger) DecrementUsage(ctx context.Context, discountID string) error {
	if err := l.repo.DecrementUsage(ctx, discountID); err != nil {
		return errors.Wrap(err, "decrement usage")
	}
	return nil
}

// FindByCode resolves an active discount by its exact code.
func (l *Ledger) FindByCode(ctx context.Context, code string) (*Discount, error) {
	return l.repo.FindByCode(ctx, code)
}
