// Package handler exposes the thin HTTP surface over the order engine:
// checkout, cart merge, lifecycle transitions, and the payment-gateway
// callback. Routing uses the stdlib mux; responses are encoded with jx.
package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/quanghm/orderflow/internal/domain/cart"
	"github.com/quanghm/orderflow/internal/domain/discount"
	"github.com/quanghm/orderflow/internal/domain/inventory"
	"github.com/quanghm/orderflow/internal/domain/order"
	"github.com/quanghm/orderflow/internal/domain/payment"
	"github.com/quanghm/orderflow/internal/domain/product"
)

// errBadRequest marks malformed request payloads.
var errBadRequest = errors.New("bad request")

// Handler delegates HTTP requests to the domain services.
type Handler struct {
	merger     *cart.Merger
	saga       *order.CreationSaga
	sm         *order.StateMachine
	orders     order.Repository
	callbacks  *payment.CallbackHandler
	sessions   payment.Sessions
	sessionTTL time.Duration
}

// NewHandler constructs a Handler with the required domain dependencies.
// sessionTTL bounds the lifetime of payment sessions issued at checkout.
func NewHandler(
	merger *cart.Merger,
	saga *order.CreationSaga,
	sm *order.StateMachine,
	orders order.Repository,
	callbacks *payment.CallbackHandler,
	sessions payment.Sessions,
	sessionTTL time.Duration,
) *Handler {
	return &Handler{
		merger:     merger,
		saga:       saga,
		sm:         sm,
		orders:     orders,
		callbacks:  callbacks,
		sessions:   sessions,
		sessionTTL: sessionTTL,
	}
}

// Register mounts all API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/carts/merge", h.MergeCarts)
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)
	mux.HandleFunc("POST /api/orders/{id}/status", h.TransitionOrder)
	mux.HandleFunc("POST /api/orders/{id}/payment", h.TransitionPayment)
	mux.HandleFunc("GET /api/payment/callback", h.PaymentCallback)
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrCartNotFound),
		errors.Is(err, cart.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, discount.ErrNotFound),
		errors.Is(err, payment.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrNoSellableItems),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrCounterCeiling):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, inventory.ErrOutOfStock),
		errors.Is(err, discount.ErrUsageLimitReached):
		return http.StatusConflict
	case errors.Is(err, payment.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, order.ErrNotOwner):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
