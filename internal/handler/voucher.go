package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CreateVoucher handles POST /api/vouchers.
func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req createVoucherRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.vouchers.Create(r.Context(), req.draft())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GetVoucher handles GET /api/vouchers/{id}.
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.vouchers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// UpdateVoucher handles PATCH /api/vouchers/{id}.
func (h *Handler) UpdateVoucher(w http.ResponseWriter, r *http.Request) {
	var req updateVoucherRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.vouchers.Update(r.Context(), chi.URLParam(r, "id"), req.patch())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// QuoteVoucher handles POST /api/vouchers/{id}/quote.
func (h *Handler) QuoteVoucher(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.vouchers.Quote(r.Context(), chi.URLParam(r, "id"), req.order())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ApplyVoucher handles POST /api/vouchers/{id}/apply.
func (h *Handler) ApplyVoucher(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.vouchers.Apply(r.Context(), chi.URLParam(r, "id"), req.request())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListOffers handles POST /api/offers.
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	offers, err := h.vouchers.Offers(r.Context(), req.order())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}
