package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quanghm/orderflow/internal/domain/order"
)

// PaymentMethodGateway requests an external gateway payment at checkout; a
// payment session is issued for the IPN callback to resolve.
const PaymentMethodGateway = "gateway"

type createOrderRequest struct {
	CartID        string `json:"cartId"`
	UserID        string `json:"userId"`
	DiscountCode  string `json:"discountCode"`
	PaymentMethod string `json:"paymentMethod"`
	Recipient     struct {
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		Email    string `json:"email"`
		Address  string `json:"address"`
		District int    `json:"district"`
		Ward     string `json:"ward"`
	} `json:"recipient"`
}

// CreateOrder checks out a cart. For gateway payments the response carries a
// paymentSessionId the gateway callback will reference.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	if req.CartID == "" {
		writeError(w, errors.Wrap(errBadRequest, "cartId is required"))
		return
	}

	o, err := h.saga.CreateOrder(r.Context(), order.CreateRequest{
		CartID:       req.CartID,
		UserID:       req.UserID,
		DiscountCode: req.DiscountCode,
		Recipient: order.Recipient{
			Name:     req.Recipient.Name,
			Phone:    req.Recipient.Phone,
			Email:    req.Recipient.Email,
			Address:  req.Recipient.Address,
			District: req.Recipient.District,
			Ward:     req.Recipient.Ward,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("order.id", o.ID))

	// The order is durable at this point; a session store outage only
	// costs the gateway flow, not the checkout.
	sessionID := ""
	if req.PaymentMethod == PaymentMethodGateway {
		sessionID, err = h.sessions.Issue(r.Context(), o.ID, h.sessionTTL)
		if err != nil {
			zctx.From(r.Context()).Error("issue payment session",
				zap.String("order_id", o.ID), zap.Error(err))
			sessionID = ""
		}
	}

	var e jx.Encoder
	encodeOrder(&e, o, sessionID)
	writeJSON(w, http.StatusCreated, &e)
}

type cancelOrderRequest struct {
	UserID string `json:"userId"`
}

// CancelOrder cancels an order on behalf of its owner.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errBadRequest, err.Error()))
		return
	}

	if err := h.sm.CancelByUser(r.Context(), r.PathValue("id"), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	h.writeOrder(w, r, r.PathValue("id"))
}

type transitionOrderRequest struct {
	Status string `json:"status"`
}

// TransitionOrder applies an admin-requested order status transition.
func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	var req transitionOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errBadRequest, err.Error()))
		return
	}

	if err := h.sm.TransitionOrder(r.Context(), r.PathValue("id"), order.Status(req.Status)); err != nil {
		writeError(w, err)
		return
	}
	h.writeOrder(w, r, r.PathValue("id"))
}

type transitionPaymentRequest struct {
	PaymentStatus string `json:"paymentStatus"`
}

// TransitionPayment applies an admin-requested payment status transition.
func (h *Handler) TransitionPayment(w http.ResponseWriter, r *http.Request) {
	var req transitionPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errBadRequest, err.Error()))
		return
	}

	err := h.sm.TransitionPayment(r.Context(), r.PathValue("id"), order.PaymentStatus(req.PaymentStatus))
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeOrder(w, r, r.PathValue("id"))
}

func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request, id string) {
	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o, "")
	writeJSON(w, http.StatusOK, &e)
}

func encodeOrder(e *jx.Encoder, o *order.Order, sessionID string) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("paymentStatus")
	e.Str(string(o.PaymentStatus))
	e.FieldStart("totalDiscount")
	e.Str(o.TotalDiscount.String())
	e.FieldStart("shippingFee")
	e.Str(o.ShippingFee.String())
	e.FieldStart("total")
	e.Str(o.Total.String())
	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("productName")
		e.Str(l.ProductName)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unitPrice")
		e.Str(l.UnitPrice.String())
		e.FieldStart("totalPrice")
		e.Str(l.TotalPrice.String())
		e.ObjEnd()
	}
	e.ArrEnd()
	if sessionID != "" {
		e.FieldStart("paymentSessionId")
		e.Str(sessionID)
	}
	e.ObjEnd()
}
