// Package handler contains the JSON HTTP handlers for the caseload API.
//
// This file implements the billing endpoints backed by the Stripe gateway.
//
// Routes handled:
//   - POST /billing/checkout -> CreateCheckout
//   - POST /billing/portal   -> OpenPortal
//   - GET  /billing/status   -> Status
//
// All three require session authentication. When billing is not configured
// (no Stripe key, development mode) the handlers degrade: checkout and
// portal report 500, status reports "none".
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/caseload/internal/auth"
	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/DukeRupert/caseload/internal/service"
)

// BillingHandler handles billing and subscription management HTTP requests.
type BillingHandler struct {
	billing service.BillingService
	logger  *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
// billingService may be nil when Stripe is not configured (development mode).
func NewBillingHandler(billingService service.BillingService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing: billingService,
		logger:  logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, requireAccount func(http.Handler) http.Handler) {
	mux.Handle("POST /billing/checkout", requireAccount(http.HandlerFunc(h.CreateCheckout)))
	mux.Handle("POST /billing/portal", requireAccount(http.HandlerFunc(h.OpenPortal)))
	mux.Handle("GET /billing/status", requireAccount(http.HandlerFunc(h.Status)))
}

type checkoutRequest struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
	PriceID    string `json:"priceId"`
}

// CreateCheckout creates a hosted checkout session and returns its URL.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromRequest(r)
	if account == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Internal(nil, "billing.checkout", "billing is not configured"))
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.billing.CreateCheckout(r.Context(), account, req.SuccessURL, req.CancelURL, req.PriceID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]string{"url": url})
}

type portalRequest struct {
	ReturnURL string `json:"returnUrl"`
}

// OpenPortal creates a hosted customer portal session and returns its URL.
// Accounts with no billing customer get a 404: there is no subscription to
// manage, and a customer is never created implicitly here.
func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromRequest(r)
	if account == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Internal(nil, "billing.portal", "billing is not configured"))
		return
	}

	var req portalRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.billing.CreatePortal(r.Context(), account, req.ReturnURL)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]string{"url": url})
}

// Status reports the normalized subscription status for UI banners.
// Absence of billing history is a normal state, not an error.
func (h *BillingHandler) Status(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromRequest(r)
	if account == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	if h.billing == nil {
		respondJSON(w, h.logger, http.StatusOK, &domain.SubscriptionStatusView{
			Status:   domain.SubscriptionStatusNone,
			IsActive: false,
		})
		return
	}

	view, err := h.billing.GetStatus(r.Context(), account)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, view)
}
