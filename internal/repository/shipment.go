package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quanghm/orderflow/internal/domain/order"
	"github.com/quanghm/orderflow/internal/domain/shipping"
)

const (
	shipmentExistsSQL = `SELECT EXISTS (SELECT 1 FROM shipments WHERE order_id = $1)`

	insertShipmentSQL = `INSERT INTO shipments (id, order_id, reference)
		VALUES ($1, $2, $3) RETURNING created_at`

	listUnshippedConfirmedSQL = `SELECT o.id FROM orders o
		LEFT JOIN shipments s ON s.order_id = o.id
		WHERE o.status = $1 AND s.id IS NULL
		ORDER BY o.created_at
		LIMIT $2`
)

var _ shipping.Repository = (*ShipmentRepository)(nil)

// ShipmentRepository implements shipping.Repository backed by PostgreSQL.
type ShipmentRepository struct {
	pool *pgxpool.Pool
}

// NewShipmentRepository returns a ShipmentRepository that uses the given pool.
func NewShipmentRepository(pool *pgxpool.Pool) *ShipmentRepository {
	return &ShipmentRepository{pool: pool}
}

// ExistsForOrder reports whether a shipment record exists for the order.
func (r *ShipmentRepository) ExistsForOrder(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, shipmentExistsSQL, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking shipment for order %q: %w", orderID, err)
	}
	return exists, nil
}

// Create assigns the shipment an ID and records it. The unique constraint on
// order_id rejects a second record for the same order.
func (r *ShipmentRepository) Create(ctx context.Context, s *shipping.Shipment) error {
	s.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, insertShipmentSQL, s.ID, s.OrderID, s.Reference).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating shipment for order %q: %w", s.OrderID, err)
	}
	return nil
}

// ListUnshippedConfirmed returns IDs of confirmed orders without a shipment
// record, oldest first.
func (r *ShipmentRepository) ListUnshippedConfirmed(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, listUnshippedConfirmedSQL, order.StatusConfirmed, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unshipped confirmed orders: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
}
