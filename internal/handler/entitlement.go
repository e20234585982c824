// Package handler contains the JSON HTTP handlers for the caseload API.
//
// This file implements the entitlement endpoints.
//
// Routes handled:
//   - GET  /entitlement/check          -> Check          (session auth)
//   - POST /entitlement/apple/activate -> ActivateApple  (service key auth)
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/caseload/internal/auth"
	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/DukeRupert/caseload/internal/service"
)

// EntitlementHandler handles entitlement checks and Apple activation.
type EntitlementHandler struct {
	entitlement service.EntitlementService
	accounts    service.AccountService
	logger      *slog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(entitlement service.EntitlementService, accounts service.AccountService, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		entitlement: entitlement,
		accounts:    accounts,
		logger:      logger,
	}
}

// RegisterRoutes registers entitlement routes on the provided mux.
// requireAccount gates the check endpoint behind session auth;
// requireServiceKey gates activation behind the server-to-server boundary.
func (h *EntitlementHandler) RegisterRoutes(mux *http.ServeMux, requireAccount, requireServiceKey func(http.Handler) http.Handler) {
	mux.Handle("GET /entitlement/check", requireAccount(http.HandlerFunc(h.Check)))
	mux.Handle("POST /entitlement/apple/activate", requireServiceKey(http.HandlerFunc(h.ActivateApple)))
}

// Check resolves and returns the caller's entitlement.
func (h *EntitlementHandler) Check(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromRequest(r)
	if account == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	entitled, err := h.entitlement.Resolve(r.Context(), account)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]bool{
		"isEntitled": entitled,
	})
}

// appleActivateRequest is the activation payload sent by the platform-side
// server after a verified purchase.
type appleActivateRequest struct {
	UserEmail             string `json:"userEmail"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	ExpirationDate        string `json:"expirationDate"`
}

// appleSubscriptionView mirrors the persisted record in responses.
type appleSubscriptionView struct {
	OriginalTransactionID string    `json:"originalTransactionId"`
	ProductID             string    `json:"productId"`
	ExpirationDate        time.Time `json:"expirationDate"`
	ActivatedAt           time.Time `json:"activatedAt"`
	IsActive              bool      `json:"isActive"`
}

// ActivateApple records an Apple in-app purchase for an account.
//
// The transaction data is trusted as presented by the service-key caller;
// there is no server-side receipt verification against Apple here. The
// service key boundary is what keeps end users from reaching this path.
func (h *EntitlementHandler) ActivateApple(w http.ResponseWriter, r *http.Request) {
	var req appleActivateRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var verr error
	if req.UserEmail == "" {
		verr = domain.AddFieldError(verr, "userEmail", "userEmail is required")
	}
	if req.OriginalTransactionID == "" {
		verr = domain.AddFieldError(verr, "originalTransactionId", "originalTransactionId is required")
	}
	if req.ProductID == "" {
		verr = domain.AddFieldError(verr, "productId", "productId is required")
	}
	var expiration time.Time
	if req.ExpirationDate == "" {
		verr = domain.AddFieldError(verr, "expirationDate", "expirationDate is required")
	} else {
		var err error
		expiration, err = time.Parse(time.RFC3339, req.ExpirationDate)
		if err != nil {
			verr = domain.AddFieldError(verr, "expirationDate", "expirationDate must be an RFC 3339 timestamp")
		}
	}
	if verr != nil {
		ValidationErrorResponse(w, r, h.logger, verr)
		return
	}

	account, err := h.accounts.ActivateAppleSubscription(r.Context(), domain.AppleActivationParams{
		Email:                 req.UserEmail,
		OriginalTransactionID: req.OriginalTransactionID,
		ProductID:             req.ProductID,
		ExpirationDate:        expiration,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	rec := account.AppleSubscription
	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"success":  true,
		"isActive": rec.IsActive,
		"user": map[string]interface{}{
			"id":    account.ID,
			"email": account.Email,
			"appleSubscription": appleSubscriptionView{
				OriginalTransactionID: rec.OriginalTransactionID,
				ProductID:             rec.ProductID,
				ExpirationDate:        rec.ExpirationDate,
				ActivatedAt:           rec.ActivatedAt,
				IsActive:              rec.IsActive,
			},
		},
	})
}
