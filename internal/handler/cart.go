package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

type mergeCartsRequest struct {
	UserID     string `json:"userId"`
	GuestToken string `json:"guestToken"`
}

// MergeCarts folds a guest cart into the user's cart after login.
func (h *Handler) MergeCarts(w http.ResponseWriter, r *http.Request) {
	var req mergeCartsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	if req.UserID == "" {
		writeError(w, errors.Wrap(errBadRequest, "userId is required"))
		return
	}

	if err := h.merger.Merge(r.Context(), req.UserID, req.GuestToken); err != nil {
		writeError(w, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("merged")
	e.Bool(true)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}
