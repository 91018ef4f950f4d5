package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quanghm/orderflow/internal/domain/inventory"
	"github.com/quanghm/orderflow/internal/domain/product"
)

const (
	getProductByIDSQL = `SELECT id, name, price, stock, sold_count, available, is_active
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT id, name, price, stock, sold_count, available, is_active
		FROM products WHERE id = ANY($1)`

	// The stock guard and the decrement run in one statement so two
	// concurrent orders can never both take the last unit.
	reserveStockSQL = `UPDATE products
		SET stock = stock - $2, available = (stock - $2) > 0
		WHERE id = $1 AND stock >= $2`

	restoreStockSQL = `UPDATE products
		SET stock = stock + $2, available = TRUE
		WHERE id = $1 AND stock + $2 <= $3`

	addSoldSQL = `UPDATE products
		SET sold_count = sold_count + $2
		WHERE id = $1 AND sold_count + $2 <= $3`

	subSoldSQL = `UPDATE products
		SET sold_count = GREATEST(sold_count - $2, 0)
		WHERE id = $1`

	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`
)

var (
	_ product.Repository   = (*ProductRepository)(nil)
	_ inventory.Repository = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and inventory.Repository
// backed by PostgreSQL. Both read on the same table, so the stock counters
// live here rather than in a separate repository.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ReserveStock atomically decrements stock by qty, recomputing availability.
func (r *ProductRepository) ReserveStock(ctx context.Context, productID string, qty int) error {
	tag, err := r.pool.Exec(ctx, reserveStockSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("reserving stock for %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.conditionFailed(ctx, productID, inventory.ErrOutOfStock)
	}
	return nil
}

// RestoreStock atomically increments stock by qty up to ceiling.
func (r *ProductRepository) RestoreStock(ctx context.Context, productID string, qty int, ceiling int64) error {
	tag, err := r.pool.Exec(ctx, restoreStockSQL, productID, qty, ceiling)
	if err != nil {
		return fmt.Errorf("restoring stock for %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.conditionFailed(ctx, productID, inventory.ErrCounterCeiling)
	}
	return nil
}

// AddSold atomically increments the sold counter by qty up to ceiling.
func (r *ProductRepository) AddSold(ctx context.Context, productID string, qty int, ceiling int64) error {
	tag, err := r.pool.Exec(ctx, addSoldSQL, productID, qty, ceiling)
	if err != nil {
		return fmt.Errorf("adding sold count for %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.conditionFailed(ctx, productID, inventory.ErrCounterCeiling)
	}
	return nil
}

// SubSold atomically decrements the sold counter by qty, flooring at zero.
func (r *ProductRepository) SubSold(ctx context.Context, productID string, qty int) error {
	tag, err := r.pool.Exec(ctx, subSoldSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("subtracting sold count for %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

// conditionFailed disambiguates a zero-row conditional update: the row is
// missing, or the guard rejected the mutation.
func (r *ProductRepository) conditionFailed(ctx context.Context, productID string, guardErr error) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, productExistsSQL, productID).Scan(&exists); err != nil {
		return fmt.Errorf("checking product %q: %w", productID, err)
	}
	if !exists {
		return inventory.ErrNotFound
	}
	return guardErr
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.SoldCount, &p.Available, &p.IsActive)
	return p, err
}
