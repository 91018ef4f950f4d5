package cart

import (
	"context"

	"github.com/go-faster/errors"
)

// Merger folds a guest cart into a user's cart on first authenticated access.
type Merger struct {
	carts Repository
}

// NewMerger creates a Merger backed by the given Repository.
func NewMerger(carts Repository) *Merger {
	return &Merger{carts: carts}
}

// Merge moves every line of the guest cart identified by token into the
// user's cart, adding quantities where the user cart already holds the same
// product, then deletes the guest cart. Safe to call on every authenticated
// cart access: a missing guest token or a token resolving to the user's own
// cart is a no-op, so a second call after a merge does nothing.
func (m *Merger) Merge(ctx context.Context, userID, guestToken string) error {
	if guestToken == "" {
		return nil
	}

	guest, err := m.carts.FindByGuestToken(ctx, guestToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "find guest cart")
	}

	user, err := m.carts.GetOrCreateByUser(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "get user cart")
	}
	if user.ID == guest.ID {
		return nil
	}

	userLines, err := m.carts.Lines(ctx, user.ID)
	if err != nil {
		return errors.Wrap(err, "load user cart lines")
	}
	byProduct := make(map[string]Line, len(userLines))
	for _, l := range userLines {
		byProduct[l.ProductID] = l
	}

	guestLines, err := m.carts.Lines(ctx, guest.ID)
	if err != nil {
		return errors.Wrap(err, "load guest cart lines")
	}

	for _, gl := range guestLines {
		if existing, ok := byProduct[gl.ProductID]; ok {
			if err := m.carts.AddQuantity(ctx, existing.ID, gl.Quantity); err != nil {
				return errors.Wrap(err, "merge line quantity")
			}
			continue
		}
		if err := m.carts.MoveLine(ctx, gl.ID, user.ID); err != nil {
			return errors.Wrap(err, "move line")
		}
	}

	if err := m.carts.DeleteCart(ctx, guest.ID); err != nil {
		return errors.Wrap(err, "delete guest cart")
	}
	return nil
}
