// Package handler exposes the voucher and report services over HTTP.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/voucher-engine/internal/domain/report"
	"github.com/xenking/voucher-engine/internal/domain/voucher"
)

// Handler serves the /api routes.
type Handler struct {
	vouchers *voucher.Service
	reports  *report.Service
	validate *validator.Validate
}

// New creates a Handler delegating to the given services.
func New(vouchers *voucher.Service, reports *report.Service) *Handler {
	return &Handler{
		vouchers: vouchers,
		reports:  reports,
		validate: newValidator(),
	}
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/vouchers", h.CreateVoucher)
		r.Route("/vouchers/{id}", func(r chi.Router) {
			r.Get("/", h.GetVoucher)
			r.Patch("/", h.UpdateVoucher)
			r.Post("/quote", h.QuoteVoucher)
			r.Post("/apply", h.ApplyVoucher)
		})
		r.Post("/offers", h.ListOffers)
		r.Get("/reports", h.GetReport)
	})
}

// Routes returns a standalone router with only the API routes.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}
