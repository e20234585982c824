// Package service contains the business logic layer.
//
// This file implements the checkout-session lifecycle and the normalized
// subscription status view.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/DukeRupert/caseload/internal/billing"
	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/DukeRupert/caseload/internal/metrics"
)

// BillingService manages the hosted checkout/portal lifecycle and reports
// normalized subscription status.
type BillingService interface {
	// CreateCheckout looks up or lazily creates the billing customer for
	// the account and returns a hosted checkout URL. priceID may be empty
	// to use the configured default.
	CreateCheckout(ctx context.Context, account *domain.Account, successURL, cancelURL, priceID string) (string, error)

	// CreatePortal returns a hosted portal URL for managing an existing
	// subscription. Returns domain.ENOTFOUND when the account has no
	// billing customer; a customer is never created implicitly here.
	CreatePortal(ctx context.Context, account *domain.Account, returnURL string) (string, error)

	// GetStatus reports the normalized subscription status view. Absence
	// of billing history is a normal state, reported as status "none",
	// never as an error.
	GetStatus(ctx context.Context, account *domain.Account) (*domain.SubscriptionStatusView, error)
}

type billingService struct {
	gateway        billing.Gateway
	accounts       AccountService
	defaultPriceID string
	logger         *slog.Logger
}

// NewBillingService creates a new BillingService.
func NewBillingService(gateway billing.Gateway, accounts AccountService, defaultPriceID string, logger *slog.Logger) BillingService {
	return &billingService{
		gateway:        gateway,
		accounts:       accounts,
		defaultPriceID: defaultPriceID,
		logger:         logger,
	}
}

func (s *billingService) CreateCheckout(ctx context.Context, account *domain.Account, successURL, cancelURL, priceID string) (string, error) {
	const op = "billing.checkout"

	if successURL == "" || cancelURL == "" {
		return "", domain.Invalid(op, "successUrl and cancelUrl are required")
	}
	if priceID == "" {
		priceID = s.defaultPriceID
	}
	if priceID == "" {
		return "", domain.Invalid(op, "no price configured for checkout")
	}

	customerID, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return "", err
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutParams{
		CustomerID:   customerID,
		PriceID:      priceID,
		SuccessURL:   successURL,
		CancelURL:    cancelURL,
		AccountEmail: account.Email,
		// Keyed to the account so concurrent duplicate requests collapse
		// into one session at the processor.
		IdempotencyKey: fmt.Sprintf("checkout-%s-%s", account.ID, priceID),
	})
	if err != nil {
		return "", domain.Upstream(err, op, "failed to create checkout session")
	}

	metrics.CheckoutSessionsTotal.Inc()
	s.logger.Info("checkout session created", "account_id", account.ID, "price_id", priceID)
	return url, nil
}

// ensureCustomer resolves the billing customer for the account, creating
// one when neither the local record nor the processor has it. The lookup
// happens before create to avoid duplicate customers per email.
func (s *billingService) ensureCustomer(ctx context.Context, account *domain.Account) (string, error) {
	const op = "billing.ensure_customer"

	if account.StripeCustomerID != "" {
		return account.StripeCustomerID, nil
	}

	customerID, err := s.gateway.FindCustomerByEmail(ctx, account.Email)
	if err != nil {
		return "", domain.Upstream(err, op, "failed to look up billing customer")
	}

	if customerID == "" {
		customerID, err = s.gateway.CreateCustomer(ctx, billing.CustomerParams{
			Email: account.Email,
			Name:  account.DisplayName(),
			// Keyed to the account so concurrent first checkouts that both
			// miss the lookup still mint a single customer.
			IdempotencyKey: fmt.Sprintf("customer-%s", account.ID),
		})
		if err != nil {
			return "", domain.Upstream(err, op, "failed to create billing customer")
		}
	}

	// Persist for next time. Best effort: the customer already exists at
	// the processor, so a failed save only costs one extra lookup later.
	if err := s.accounts.UpdateStripeCustomer(ctx, account.ID, customerID); err != nil {
		s.logger.Error("failed to save billing customer id", "error", err, "account_id", account.ID)
	}
	account.StripeCustomerID = customerID

	return customerID, nil
}

func (s *billingService) CreatePortal(ctx context.Context, account *domain.Account, returnURL string) (string, error) {
	const op = "billing.portal"

	if returnURL == "" {
		return "", domain.Invalid(op, "returnUrl is required")
	}

	customerID := account.StripeCustomerID
	if customerID == "" {
		var err error
		customerID, err = s.gateway.FindCustomerByEmail(ctx, account.Email)
		if err != nil {
			return "", domain.Upstream(err, op, "failed to look up billing customer")
		}
	}
	if customerID == "" {
		return "", domain.NotFound(op, "subscription", account.Email)
	}

	url, err := s.gateway.CreatePortalSession(ctx, customerID, returnURL)
	if err != nil {
		return "", domain.Upstream(err, op, "failed to create portal session")
	}
	return url, nil
}

func (s *billingService) GetStatus(ctx context.Context, account *domain.Account) (*domain.SubscriptionStatusView, error) {
	const op = "billing.status"

	subs, err := s.gateway.ListSubscriptionsForEmail(ctx, account.Email)
	if err != nil {
		return nil, domain.Upstream(err, op, "failed to list subscriptions")
	}

	if len(subs) == 0 {
		return &domain.SubscriptionStatusView{
			Status:   domain.SubscriptionStatusNone,
			IsActive: false,
		}, nil
	}

	// Most recent subscription wins the status banner.
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].Created > subs[j].Created
	})
	latest := subs[0]

	return &domain.SubscriptionStatusView{
		Status:           latest.Status,
		IsActive:         latest.IsEntitling(),
		IsTrial:          latest.Status == domain.SubscriptionStatusTrialing,
		TrialEnd:         latest.TrialEnd,
		CurrentPeriodEnd: latest.CurrentPeriodEnd,
	}, nil
}
