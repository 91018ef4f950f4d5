package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// PaymentCallback receives the gateway IPN. The gateway retries on non-200,
// so duplicate deliveries must succeed; the underlying transitions are
// idempotent.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	if err := h.callbacks.Handle(r.Context(), r.URL.Query()); err != nil {
		writeError(w, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("received")
	e.Bool(true)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}
