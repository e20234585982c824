// Package billing provides the Stripe gateway adapter for subscription
// management. The gateway is stateless: it never mutates billing state
// except when creating customers, checkout sessions, and portal sessions.
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/stripe/stripe-go/v79"
	billingportalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// TrialPeriodDays is the trial length applied to every new checkout.
const TrialPeriodDays = 7

// MetadataEmailKey tags checkout sessions and subscriptions with the
// account email so legacy records can be reconciled by metadata search.
const MetadataEmailKey = "appUserEmail"

// metadataAppKey carries the application identifier in checkout metadata.
const metadataAppKey = "app"

// CheckoutParams describes a checkout session to create.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string

	// AccountEmail is written into session and subscription metadata for
	// later reconciliation.
	AccountEmail string

	// IdempotencyKey guards the session create against concurrent
	// duplicate requests from the same account.
	IdempotencyKey string
}

// CustomerParams describes a billing customer to create.
type CustomerParams struct {
	Email string
	Name  string

	// IdempotencyKey collapses concurrent first-time creates for the same
	// account into a single customer at the processor.
	IdempotencyKey string
}

// Gateway defines the interface for payment-processor operations.
type Gateway interface {
	// FindCustomerByEmail returns the ID of the billing customer matching
	// the email, or "" when none exists. Absence is not an error.
	FindCustomerByEmail(ctx context.Context, email string) (string, error)

	// ListSubscriptionsForEmail lists all subscriptions visible to the
	// account: those attached to the email-matched customer plus those
	// tagged with the email in subscription metadata (legacy records may
	// use either path).
	ListSubscriptionsForEmail(ctx context.Context, email string) ([]domain.BillingSubscription, error)

	// CreateCustomer creates a new billing customer.
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)

	// CreateCheckoutSession creates a subscription-mode checkout session
	// with a trial period. Returns the hosted checkout URL.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)

	// CreatePortalSession creates a customer portal session.
	// Returns the hosted portal URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// VerifyWebhookSignature verifies the webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)
}

// stripeGateway is the concrete implementation of Gateway.
type stripeGateway struct {
	webhookSecret string
	appIdentifier string
	timeout       time.Duration
}

// NewStripeGateway creates a new Stripe gateway.
//
// The secretKey authenticates Stripe API calls. The webhookSecret verifies
// incoming webhook signatures. appIdentifier is written into checkout
// metadata so subscriptions created here can be told apart from other
// products on the same Stripe account. timeout bounds every API call.
func NewStripeGateway(secretKey, webhookSecret, appIdentifier string, timeout time.Duration) Gateway {
	stripe.Key = secretKey

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &stripeGateway{
		webhookSecret: webhookSecret,
		appIdentifier: appIdentifier,
		timeout:       timeout,
	}
}

// bound returns a deadline-bounded child context for a single API call.
func (g *stripeGateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

func (g *stripeGateway) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	callCtx, cancel := g.bound(ctx)
	defer cancel()

	params := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	params.Context = callCtx
	params.Limit = stripe.Int64(1)

	iter := customer.List(params)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("stripe list customers: %w", err)
	}
	return "", nil
}

func (g *stripeGateway) ListSubscriptionsForEmail(ctx context.Context, email string) ([]domain.BillingSubscription, error) {
	var subs []domain.BillingSubscription
	seen := make(map[string]bool)

	customerID, err := g.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if customerID != "" {
		callCtx, cancel := g.bound(ctx)
		params := &stripe.SubscriptionListParams{
			Customer: stripe.String(customerID),
			Status:   stripe.String("all"),
		}
		params.Context = callCtx

		iter := subscription.List(params)
		for iter.Next() {
			sub := iter.Subscription()
			seen[sub.ID] = true
			subs = append(subs, toDomainSubscription(sub))
		}
		cancel()
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("stripe list subscriptions: %w", err)
		}
	}

	// Second match path: subscriptions tagged with the email in metadata.
	// Legacy records created before customers were linked use this path.
	searchCtx, cancel := g.bound(ctx)
	defer cancel()

	search := &stripe.SubscriptionSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['%s']:'%s'", MetadataEmailKey, escapeSearchValue(email)),
			Context: searchCtx,
		},
	}

	searchIter := subscription.Search(search)
	for searchIter.Next() {
		sub := searchIter.Subscription()
		if seen[sub.ID] {
			continue
		}
		subs = append(subs, toDomainSubscription(sub))
	}
	if err := searchIter.Err(); err != nil {
		return nil, fmt.Errorf("stripe search subscriptions: %w", err)
	}

	return subs, nil
}

func (g *stripeGateway) CreateCustomer(ctx context.Context, cp CustomerParams) (string, error) {
	callCtx, cancel := g.bound(ctx)
	defer cancel()

	params := &stripe.CustomerParams{
		Email: stripe.String(cp.Email),
		Name:  stripe.String(cp.Name),
	}
	params.Context = callCtx
	if cp.IdempotencyKey != "" {
		params.SetIdempotencyKey(cp.IdempotencyKey)
	}

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return c.ID, nil
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, cp CheckoutParams) (string, error) {
	callCtx, cancel := g.bound(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(cp.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(cp.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(TrialPeriodDays),
			Metadata: map[string]string{
				MetadataEmailKey: cp.AccountEmail,
				metadataAppKey:   g.appIdentifier,
			},
		},
		SuccessURL: stripe.String(cp.SuccessURL),
		CancelURL:  stripe.String(cp.CancelURL),
	}
	params.Context = callCtx
	params.AddMetadata(MetadataEmailKey, cp.AccountEmail)
	params.AddMetadata(metadataAppKey, g.appIdentifier)
	if cp.IdempotencyKey != "" {
		params.SetIdempotencyKey(cp.IdempotencyKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (g *stripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	callCtx, cancel := g.bound(ctx)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = callCtx

	sess, err := billingportalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create portal session: %w", err)
	}
	return sess.URL, nil
}

func (g *stripeGateway) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

// toDomainSubscription maps a Stripe subscription to the domain view.
func toDomainSubscription(sub *stripe.Subscription) domain.BillingSubscription {
	return domain.BillingSubscription{
		ID:                sub.ID,
		Status:            domain.SubscriptionStatus(sub.Status),
		TrialEnd:          sub.TrialEnd,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		Created:           sub.Created,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
}

// escapeSearchValue escapes quotes and backslashes for the Stripe search
// query language.
func escapeSearchValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}
