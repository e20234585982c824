// Package service contains the business logic layer.
//
// This file implements the entitlement resolver: the single decision point
// that merges the web billing source and the Apple purchase record into one
// boolean gate for premium features.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/caseload/internal/billing"
	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/DukeRupert/caseload/internal/metrics"
)

// EntitlementService resolves whether an account may use premium features.
type EntitlementService interface {
	// Resolve recomputes entitlement from current data. Sources are
	// consulted in order; a source failure falls through to the next
	// source, never granting access by default. The returned error is
	// non-nil only when every source failed.
	Resolve(ctx context.Context, account *domain.Account) (bool, error)
}

type entitlementService struct {
	sources []domain.EntitlementSource
	logger  *slog.Logger
}

// NewEntitlementService creates the resolver with the standard source
// order: web billing subscriptions first, then the Apple purchase record.
// gateway may be nil when billing is not configured; the Apple source alone
// then decides.
func NewEntitlementService(gateway billing.Gateway, logger *slog.Logger) EntitlementService {
	var sources []domain.EntitlementSource
	if gateway != nil {
		sources = append(sources, &stripeSource{gateway: gateway, logger: logger})
	}
	sources = append(sources, &appleSource{now: time.Now})

	return &entitlementService{
		sources: sources,
		logger:  logger,
	}
}

// NewEntitlementServiceWithSources builds a resolver over an explicit
// source list. Used by tests and available for additional platforms.
func NewEntitlementServiceWithSources(logger *slog.Logger, sources ...domain.EntitlementSource) EntitlementService {
	return &entitlementService{
		sources: sources,
		logger:  logger,
	}
}

func (s *entitlementService) Resolve(ctx context.Context, account *domain.Account) (bool, error) {
	const op = "entitlement.resolve"

	anyResolved := false
	for _, src := range s.sources {
		entitled, ok := src.Check(ctx, account)
		if !ok {
			metrics.EntitlementSourceFailures.WithLabelValues(src.Name()).Inc()
			s.logger.Warn("entitlement source unavailable, trying next source",
				"source", src.Name(),
				"account_id", account.ID,
			)
			continue
		}
		anyResolved = true
		if entitled {
			metrics.EntitlementChecksTotal.WithLabelValues("entitled", src.Name()).Inc()
			return true, nil
		}
	}

	if !anyResolved {
		metrics.EntitlementChecksTotal.WithLabelValues("error", "none").Inc()
		return false, domain.Upstream(nil, op, "all entitlement sources failed")
	}

	metrics.EntitlementChecksTotal.WithLabelValues("not_entitled", "none").Inc()
	return false, nil
}

// stripeSource consults the payment processor. An account is entitled when
// any subscription visible to it (customer match or metadata match) has an
// entitling status. Gateway failures report ok=false so resolution falls
// through to the Apple record.
type stripeSource struct {
	gateway billing.Gateway
	logger  *slog.Logger
}

func (s *stripeSource) Name() string { return "stripe" }

func (s *stripeSource) Check(ctx context.Context, account *domain.Account) (bool, bool) {
	subs, err := s.gateway.ListSubscriptionsForEmail(ctx, account.Email)
	if err != nil {
		// Logged, not surfaced: a billing outage must not take down
		// entitlement checks for Apple subscribers.
		s.logger.Warn("billing gateway lookup failed", "error", err, "account_id", account.ID)
		return false, false
	}

	for _, sub := range subs {
		if sub.IsEntitling() {
			return true, true
		}
	}
	return false, true
}

// appleSource consults the persisted Apple purchase record. It re-derives
// activity from the raw expiration timestamp against the server clock; the
// stored isActive flag is never consulted. This source cannot fail.
type appleSource struct {
	now func() time.Time
}

func (s *appleSource) Name() string { return "apple" }

func (s *appleSource) Check(_ context.Context, account *domain.Account) (bool, bool) {
	return account.AppleSubscription.ActiveAt(s.now()), true
}
