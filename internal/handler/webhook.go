package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/caseload/internal/billing"
	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/DukeRupert/caseload/internal/email"
	"github.com/DukeRupert/caseload/internal/metrics"
	"github.com/DukeRupert/caseload/internal/service"
	"github.com/stripe/stripe-go/v79"
)

// maxWebhookBody caps the webhook payload size. Stripe events are small;
// this matches Stripe's own example handlers.
const maxWebhookBody = 65536

// WebhookHandler processes billing provider webhook events.
//
// Events keep the stored subscription snapshot current. The snapshot is
// display-only: entitlement gating always re-queries the provider, so a
// missed or re-ordered event degrades the status view, never the gate.
type WebhookHandler struct {
	gateway  billing.Gateway
	accounts service.AccountService
	students service.StudentService
	mailer   email.EmailService
	logger   *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(
	gateway billing.Gateway,
	accounts service.AccountService,
	students service.StudentService,
	mailer email.EmailService,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		gateway:  gateway,
		accounts: accounts,
		students: students,
		mailer:   mailer,
		logger:   logger,
	}
}

// RegisterRoutes registers the webhook endpoint on the provided mux.
// The route is authenticated by signature verification, not by session.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripe)
}

// HandleStripe verifies and dispatches a Stripe webhook event.
//
// Unhandled event types are acknowledged with 200 so Stripe stops
// retrying them. Processing failures also return 200 once the signature
// has been verified: the snapshot is advisory and a retry storm would
// not help.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		writeJSONError(w, http.StatusServiceUnavailable, domain.EUPSTREAM, "Billing is not configured.")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, domain.EINVALID, "Unable to read request body.")
		return
	}

	event, err := h.gateway.VerifyWebhookSignature(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		writeJSONError(w, http.StatusBadRequest, domain.EINVALID, "Invalid webhook signature.")
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(r.Context(), event)
	case "customer.subscription.created",
		"customer.subscription.updated":
		h.handleSubscriptionChanged(r.Context(), event)
	case "customer.subscription.deleted":
		h.handleSubscriptionDeleted(r.Context(), event)
	default:
		h.logger.Debug("ignoring webhook event", "type", event.Type)
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]bool{"received": true})
}

// handleCheckoutCompleted links the billing customer to the account and
// sends the subscription confirmation.
func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to parse checkout session event", "error", err)
		return
	}
	if session.Customer == nil {
		h.logger.Warn("checkout session completed without customer", "session_id", session.ID)
		return
	}

	account, err := h.lookupAccount(ctx, session.Customer.ID, session.Metadata[billing.MetadataEmailKey])
	if err != nil {
		h.logger.Warn("no account for completed checkout",
			"customer_id", session.Customer.ID,
			"error", err,
		)
		return
	}

	if account.StripeCustomerID == "" {
		if err := h.accounts.UpdateStripeCustomer(ctx, account.ID, session.Customer.ID); err != nil {
			h.logger.Error("failed to link billing customer",
				"account_id", account.ID,
				"error", err,
			)
		}
	}

	h.logger.Info("checkout completed",
		"account_id", account.ID,
		"session_id", session.ID,
	)

	if err := h.mailer.SendSubscriptionActiveEmail(ctx, account.Email, account.Name); err != nil {
		h.logger.Error("failed to send subscription email", "account_id", account.ID, "error", err)
	}
}

// handleSubscriptionChanged refreshes the stored status snapshot.
func (h *WebhookHandler) handleSubscriptionChanged(ctx context.Context, event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err)
		return
	}
	if sub.Customer == nil {
		return
	}

	account, err := h.lookupAccount(ctx, sub.Customer.ID, sub.Metadata[billing.MetadataEmailKey])
	if err != nil {
		h.logger.Warn("no account for subscription event",
			"customer_id", sub.Customer.ID,
			"error", err,
		)
		return
	}

	status := domain.SubscriptionStatus(sub.Status)
	if err := h.accounts.UpdateSubscriptionSnapshot(ctx, account.ID, status, sub.ID); err != nil {
		h.logger.Error("failed to update subscription snapshot",
			"account_id", account.ID,
			"error", err,
		)
		return
	}

	h.logger.Info("subscription snapshot updated",
		"account_id", account.ID,
		"status", status,
	)
}

// handleSubscriptionDeleted marks the snapshot canceled and, when the
// account holds more students than the free tier allows, sends the
// downgrade notice. Nothing is deleted here: the user picks what to keep.
func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err)
		return
	}
	if sub.Customer == nil {
		return
	}

	account, err := h.lookupAccount(ctx, sub.Customer.ID, sub.Metadata[billing.MetadataEmailKey])
	if err != nil {
		h.logger.Warn("no account for subscription deletion",
			"customer_id", sub.Customer.ID,
			"error", err,
		)
		return
	}

	if err := h.accounts.UpdateSubscriptionSnapshot(ctx, account.ID, domain.SubscriptionStatusCanceled, sub.ID); err != nil {
		h.logger.Error("failed to update subscription snapshot",
			"account_id", account.ID,
			"error", err,
		)
	}

	students, err := h.students.List(ctx, account)
	if err != nil {
		h.logger.Error("failed to count students for downgrade notice",
			"account_id", account.ID,
			"error", err,
		)
		return
	}
	if len(students) <= domain.FreeTierStudentLimit {
		return
	}

	if err := h.mailer.SendDowngradeNotice(ctx, account.Email, account.Name, len(students)); err != nil {
		h.logger.Error("failed to send downgrade notice", "account_id", account.ID, "error", err)
	}
}

// lookupAccount resolves the account for an event, preferring the stored
// customer link and falling back to the email tagged in metadata.
func (h *WebhookHandler) lookupAccount(ctx context.Context, customerID, metadataEmail string) (*domain.Account, error) {
	account, err := h.accounts.GetByStripeCustomerID(ctx, customerID)
	if err == nil {
		return account, nil
	}
	if metadataEmail == "" {
		return nil, err
	}
	return h.accounts.GetByEmail(ctx, metadataEmail)
}
