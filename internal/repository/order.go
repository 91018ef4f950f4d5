package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quanghm/orderflow/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders
		(id, user_id, guest_name, guest_phone, guest_email, address, district, ward,
		 status, payment_status, discount_id, total_discount, shipping_fee, total)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8,
		        $9, $10, NULLIF($11, ''), $12, $13, $14)
		RETURNING created_at, updated_at`

	insertOrderLineSQL = `INSERT INTO order_lines
		(id, order_id, product_id, product_name, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getOrderByIDSQL = `SELECT id, COALESCE(user_id, ''), guest_name, guest_phone, guest_email,
			address, district, ward, status, payment_status, COALESCE(discount_id, ''),
			total_discount, shipping_fee, total, created_at, updated_at
		FROM orders WHERE id = $1`

	listOrderLinesSQL = `SELECT id, order_id, product_id, product_name, quantity, unit_price, total_price
		FROM order_lines WHERE order_id = $1 ORDER BY id`

	updateOrderStatusSQL = `UPDATE orders
		SET status = $2, updated_at = NOW() WHERE id = $1`

	updatePaymentStatusSQL = `UPDATE orders
		SET payment_status = $2, updated_at = NOW() WHERE id = $1`

	markSideEffectSQL = `INSERT INTO order_side_effects (order_id, action)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`

	clearSideEffectSQL = `DELETE FROM order_side_effects
		WHERE order_id = $1 AND action = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and its line snapshot in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning order transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, insertOrderSQL,
		o.ID, o.UserID, o.Recipient.Name, o.Recipient.Phone, o.Recipient.Email,
		o.Recipient.Address, o.Recipient.District, o.Recipient.Ward,
		o.Status, o.PaymentStatus, o.DiscountID, o.TotalDiscount, o.ShippingFee, o.Total,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, l := range o.Lines {
		_, err = tx.Exec(ctx, insertOrderLineSQL,
			l.ID, o.ID, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice, l.TotalPrice,
		)
		if err != nil {
			return fmt.Errorf("creating line of order %q: %w", o.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID loads an order with its lines.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	lineRows, err := r.pool.Query(ctx, listOrderLinesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %q: %w", id, err)
	}
	o.Lines, err = pgx.CollectRows(lineRows, scanOrderLine)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %q: %w", id, err)
	}
	return &o, nil
}

// UpdateStatus sets the order status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, s order.Status) error {
	return r.update(ctx, updateOrderStatusSQL, id, string(s))
}

// UpdatePaymentStatus sets the payment status.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, id string, ps order.PaymentStatus) error {
	return r.update(ctx, updatePaymentStatusSQL, id, string(ps))
}

// MarkSideEffect records that the named action ran for the order. Returns
// false when the marker already existed.
func (r *OrderRepository) MarkSideEffect(ctx context.Context, orderID, action string) (bool, error) {
	tag, err := r.pool.Exec(ctx, markSideEffectSQL, orderID, action)
	if err != nil {
		return false, fmt.Errorf("marking %q on order %q: %w", action, orderID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClearSideEffect removes the marker. Returns false when none existed.
func (r *OrderRepository) ClearSideEffect(ctx context.Context, orderID, action string) (bool, error) {
	tag, err := r.pool.Exec(ctx, clearSideEffectSQL, orderID, action)
	if err != nil {
		return false, fmt.Errorf("clearing %q on order %q: %w", action, orderID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *OrderRepository) update(ctx context.Context, sql, id, value string) error {
	tag, err := r.pool.Exec(ctx, sql, id, value)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.Recipient.Name, &o.Recipient.Phone, &o.Recipient.Email,
		&o.Recipient.Address, &o.Recipient.District, &o.Recipient.Ward,
		&o.Status, &o.PaymentStatus, &o.DiscountID,
		&o.TotalDiscount, &o.ShippingFee, &o.Total, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func scanOrderLine(row pgx.CollectableRow) (order.Line, error) {
	var l order.Line
	err := row.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice, &l.TotalPrice)
	return l, err
}
