package payment

import (
	"context"
	"net/url"
	"time"

	"github.com/go-faster/errors"

	"github.com/quanghm/orderflow/internal/domain/order"
)

var (
	// ErrSessionNotFound is returned when the callback references an
	// unknown or expired payment session.
	ErrSessionNotFound = errors.New("payment session not found")
)

// Callback query parameters.
const (
	ParamSession = "sessionId"
	ParamResult  = "resultCode"
)

// Gateway result codes.
const (
	ResultSuccess   = "00"
	ResultCancelled = "24"
)

// Sessions maps opaque payment-session IDs to order IDs with a bounded
// lifetime. Implementations must expire entries after the configured TTL.
type Sessions interface {
	// Issue creates a session for the order and returns its ID.
	Issue(ctx context.Context, orderID string, ttl time.Duration) (string, error)
	// Resolve returns the order ID behind a session.
	// Returns ErrSessionNotFound for unknown or expired sessions.
	Resolve(ctx context.Context, sessionID string) (string, error)
}

// CallbackHandler turns verified gateway callbacks into payment transitions.
type CallbackHandler struct {
	verifier *Verifier
	sessions Sessions
	sm       *order.StateMachine
}

// NewCallbackHandler creates a CallbackHandler.
func NewCallbackHandler(verifier *Verifier, sessions Sessions, sm *order.StateMachine) *CallbackHandler {
	return &CallbackHandler{verifier: verifier, sessions: sessions, sm: sm}
}

// Handle verifies and applies one gateway callback. Verification failure
// returns ErrBadSignature with no state change. Duplicate deliveries are
// no-ops because the underlying payment transitions are idempotent.
func (h *CallbackHandler) Handle(ctx context.Context, params url.Values) error {
	if !h.verifier.Verify(params) {
		return ErrBadSignature
	}

	orderID, err := h.sessions.Resolve(ctx, params.Get(ParamSession))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return errors.Wrap(err, "resolve session")
	}

	switch params.Get(ParamResult) {
	case ResultSuccess:
		return h.sm.TransitionPayment(ctx, orderID, order.PaymentPaid)
	case ResultCancelled:
		return h.sm.HandlePaymentCancelled(ctx, orderID)
	default:
		return h.sm.TransitionPayment(ctx, orderID, order.PaymentFailed)
	}
}
