// Package cart models shopping carts and the guest-to-user merge performed on
// first authenticated access.
package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested cart does not exist.
var ErrNotFound = errors.New("cart not found")

// Cart belongs to either an authenticated user (one cart per user) or an
// opaque guest token (one cart per token).
type Cart struct {
	ID         string
	UserID     string
	GuestToken string
}

// Line is one (product, quantity) entry in a cart. At most one line exists
// per (cart, product) pair. Chosen marks the line as selected for the next
// checkout; unchosen lines are kept but excluded from order creation.
type Line struct {
	ID         string
	CartID     string
	ProductID  string
	Quantity   int
	Chosen     bool
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

// Repository defines persistence operations for carts and their lines.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Cart, error)
	GetOrCreateByUser(ctx context.Context, userID string) (*Cart, error)
	FindByGuestToken(ctx context.Context, token string) (*Cart, error)
	Lines(ctx context.Context, cartID string) ([]Line, error)
	// AddQuantity increments a line's quantity and recomputes its cached
	// total price.
	AddQuantity(ctx context.Context, lineID string, qty int) error
	// MoveLine reassigns a line to another cart.
	MoveLine(ctx context.Context, lineID, toCartID string) error
	// DeleteLines removes the given lines from the cart; lines belonging to
	// other carts are ignored.
	DeleteLines(ctx context.Context, cartID string, lineIDs []string) error
	DeleteCart(ctx context.Context, cartID string) error
}
