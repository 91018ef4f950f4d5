package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quanghm/orderflow/internal/domain/cart"
)

const (
	getCartByIDSQL = `SELECT id, COALESCE(user_id, ''), COALESCE(guest_token, '')
		FROM carts WHERE id = $1`

	getCartByUserSQL = `SELECT id, COALESCE(user_id, ''), COALESCE(guest_token, '')
		FROM carts WHERE user_id = $1`

	getCartByGuestTokenSQL = `SELECT id, COALESCE(user_id, ''), COALESCE(guest_token, '')
		FROM carts WHERE guest_token = $1`

	createUserCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`

	listCartLinesSQL = `SELECT id, cart_id, product_id, quantity, chosen, unit_price, total_price
		FROM cart_lines WHERE cart_id = $1 ORDER BY id`

	addLineQuantitySQL = `UPDATE cart_lines
		SET quantity = quantity + $2, total_price = unit_price * (quantity + $2)
		WHERE id = $1`

	moveLineSQL = `UPDATE cart_lines SET cart_id = $2 WHERE id = $1`

	deleteCartLinesSQL = `DELETE FROM cart_lines WHERE cart_id = $1 AND id = ANY($2)`

	deleteCartSQL = `DELETE FROM carts WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetByID returns a cart by its identifier.
func (r *CartRepository) GetByID(ctx context.Context, id string) (*cart.Cart, error) {
	return r.queryOne(ctx, getCartByIDSQL, id)
}

// GetOrCreateByUser returns the user's cart, creating an empty one on first
// use. The unique constraint on user_id makes concurrent first calls
// converge on a single cart.
func (r *CartRepository) GetOrCreateByUser(ctx context.Context, userID string) (*cart.Cart, error) {
	if _, err := r.pool.Exec(ctx, createUserCartSQL, uuid.NewString(), userID); err != nil {
		return nil, fmt.Errorf("creating cart for user %q: %w", userID, err)
	}
	return r.queryOne(ctx, getCartByUserSQL, userID)
}

// FindByGuestToken returns the guest cart holding the token.
func (r *CartRepository) FindByGuestToken(ctx context.Context, token string) (*cart.Cart, error) {
	return r.queryOne(ctx, getCartByGuestTokenSQL, token)
}

// Lines returns the cart's lines ordered by ID.
func (r *CartRepository) Lines(ctx context.Context, cartID string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, listCartLinesSQL, cartID)
	if err != nil {
		return nil, fmt.Errorf("listing lines of cart %q: %w", cartID, err)
	}
	return pgx.CollectRows(rows, scanCartLine)
}

// AddQuantity increments a line's quantity and recomputes its total price in
// one statement.
func (r *CartRepository) AddQuantity(ctx context.Context, lineID string, qty int) error {
	tag, err := r.pool.Exec(ctx, addLineQuantitySQL, lineID, qty)
	if err != nil {
		return fmt.Errorf("adding quantity to line %q: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// MoveLine reassigns a line to another cart.
func (r *CartRepository) MoveLine(ctx context.Context, lineID, toCartID string) error {
	tag, err := r.pool.Exec(ctx, moveLineSQL, lineID, toCartID)
	if err != nil {
		return fmt.Errorf("moving line %q: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// DeleteLines removes the given lines from the cart. IDs belonging to other
// carts are ignored.
func (r *CartRepository) DeleteLines(ctx context.Context, cartID string, lineIDs []string) error {
	if len(lineIDs) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, deleteCartLinesSQL, cartID, lineIDs); err != nil {
		return fmt.Errorf("deleting lines of cart %q: %w", cartID, err)
	}
	return nil
}

// DeleteCart removes a cart and, through the cascade, its lines.
func (r *CartRepository) DeleteCart(ctx context.Context, cartID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartSQL, cartID); err != nil {
		return fmt.Errorf("deleting cart %q: %w", cartID, err)
	}
	return nil
}

func (r *CartRepository) queryOne(ctx context.Context, sql, arg string) (*cart.Cart, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("querying cart: %w", err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (cart.Cart, error) {
		var c cart.Cart
		err := row.Scan(&c.ID, &c.UserID, &c.GuestToken)
		return c, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("querying cart: %w", err)
	}
	return &c, nil
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity, &l.Chosen, &l.UnitPrice, &l.TotalPrice)
	return l, err
}
