package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quanghm/orderflow/internal/domain/discount"
	"github.com/quanghm/orderflow/internal/domain/order"
)

// Nullable limit columns collapse to the domain's zero-means-unlimited
// convention at scan time.
const (
	discountColumns = `id, code, value, min_order_value,
		COALESCE(max_discount_amount, 0), start_date, end_date, is_active,
		COALESCE(usage_limit, 0), used_count, COALESCE(user_usage_limit, 0)`

	getDiscountByIDSQL = `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1`

	findDiscountByCodeSQL = `SELECT ` + discountColumns + ` FROM discounts
		WHERE code = $1 AND is_active`

	incrementUsageSQL = `UPDATE discounts
		SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	decrementUsageSQL = `UPDATE discounts
		SET used_count = GREATEST(used_count - 1, 0)
		WHERE id = $1`

	countUserUsageSQL = `SELECT COUNT(*) FROM orders
		WHERE discount_id = $1 AND user_id = $2 AND status <> $3`

	discountExistsSQL = `SELECT EXISTS (SELECT 1 FROM discounts WHERE id = $1)`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// GetByID returns a discount by its identifier.
func (r *DiscountRepository) GetByID(ctx context.Context, id string) (*discount.Discount, error) {
	return r.queryOne(ctx, getDiscountByIDSQL, id)
}

// FindByCode returns the active discount with the exact code.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Discount, error) {
	return r.queryOne(ctx, findDiscountByCodeSQL, code)
}

// IncrementUsage bumps the global usage counter. The usage limit is enforced
// in the same statement, so a concurrent burst cannot overshoot it.
func (r *DiscountRepository) IncrementUsage(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, incrementUsageSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing usage for discount %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, discountExistsSQL, id).Scan(&exists); err != nil {
			return fmt.Errorf("checking discount %q: %w", id, err)
		}
		if !exists {
			return discount.ErrNotFound
		}
		return discount.ErrUsageLimitReached
	}
	return nil
}

// DecrementUsage lowers the global usage counter, flooring at zero.
func (r *DiscountRepository) DecrementUsage(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, decrementUsageSQL, id)
	if err != nil {
		return fmt.Errorf("decrementing usage for discount %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

// CountUserUsage counts the user's non-cancelled orders referencing the
// discount.
func (r *DiscountRepository) CountUserUsage(ctx context.Context, id, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, countUserUsageSQL, id, userID, order.StatusCancelled).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting usage of discount %q by user %q: %w", id, userID, err)
	}
	return n, nil
}

func (r *DiscountRepository) queryOne(ctx context.Context, sql, arg string) (*discount.Discount, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("querying discount: %w", err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("querying discount: %w", err)
	}
	return &d, nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var d discount.Discount
	err := row.Scan(
		&d.ID, &d.Code, &d.Value, &d.MinOrderValue, &d.MaxDiscountAmount,
		&d.StartDate, &d.EndDate, &d.IsActive,
		&d.UsageLimit, &d.UsedCount, &d.UserUsageLimit,
	)
	return d, err
}
