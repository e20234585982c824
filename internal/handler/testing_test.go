package handler

import (
	"context"
	"errors"

	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/google/uuid"
	"io"
	"log/slog"
)

// Scripted service stubs for handler tests. Only the methods a test
// exercises are given behavior; the rest fail loudly.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errNotStubbed = errors.New("not stubbed")

type stubEntitlement struct {
	entitled bool
	err      error
}

func (s stubEntitlement) Resolve(_ context.Context, _ *domain.Account) (bool, error) {
	return s.entitled, s.err
}

type stubAccounts struct {
	activateFn     func(context.Context, domain.AppleActivationParams) (*domain.Account, error)
	loginFn        func(context.Context, string, string) (*domain.LoginResult, error)
	registerFn     func(context.Context, domain.RegisterParams) (*domain.Account, error)
	bySessionFn    func(context.Context, string) (*domain.Account, error)
	byEmailFn      func(context.Context, string) (*domain.Account, error)
	byCustomerFn   func(context.Context, string) (*domain.Account, error)
	linkCustomerFn func(context.Context, uuid.UUID, string) error
	snapshotFn     func(context.Context, uuid.UUID, domain.SubscriptionStatus, string) error
}

func (s *stubAccounts) Register(ctx context.Context, params domain.RegisterParams) (*domain.Account, error) {
	if s.registerFn == nil {
		return nil, errNotStubbed
	}
	return s.registerFn(ctx, params)
}

func (s *stubAccounts) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	if s.loginFn == nil {
		return nil, errNotStubbed
	}
	return s.loginFn(ctx, email, password)
}

func (s *stubAccounts) Logout(_ context.Context, _ string) error { return nil }

func (s *stubAccounts) GetBySessionToken(ctx context.Context, token string) (*domain.Account, error) {
	if s.bySessionFn == nil {
		return nil, errNotStubbed
	}
	return s.bySessionFn(ctx, token)
}

func (s *stubAccounts) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	if s.byEmailFn == nil {
		return nil, errNotStubbed
	}
	return s.byEmailFn(ctx, email)
}

func (s *stubAccounts) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.Account, error) {
	if s.byCustomerFn == nil {
		return nil, errNotStubbed
	}
	return s.byCustomerFn(ctx, customerID)
}

func (s *stubAccounts) UpdateStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	if s.linkCustomerFn == nil {
		return errNotStubbed
	}
	return s.linkCustomerFn(ctx, id, customerID)
}

func (s *stubAccounts) UpdateSubscriptionSnapshot(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus, subscriptionID string) error {
	if s.snapshotFn == nil {
		return errNotStubbed
	}
	return s.snapshotFn(ctx, id, status, subscriptionID)
}

func (s *stubAccounts) ActivateAppleSubscription(ctx context.Context, params domain.AppleActivationParams) (*domain.Account, error) {
	if s.activateFn == nil {
		return nil, errNotStubbed
	}
	return s.activateFn(ctx, params)
}

type stubBilling struct {
	checkoutURL string
	checkoutErr error
	portalURL   string
	portalErr   error
	statusView  *domain.SubscriptionStatusView
	statusErr   error
}

func (s *stubBilling) CreateCheckout(_ context.Context, _ *domain.Account, _, _, _ string) (string, error) {
	return s.checkoutURL, s.checkoutErr
}

func (s *stubBilling) CreatePortal(_ context.Context, _ *domain.Account, _ string) (string, error) {
	return s.portalURL, s.portalErr
}

func (s *stubBilling) GetStatus(_ context.Context, _ *domain.Account) (*domain.SubscriptionStatusView, error) {
	return s.statusView, s.statusErr
}

type stubStudents struct {
	students  []domain.Student
	listErr   error
	created   *domain.Student
	createErr error
	result    *domain.DowngradeResult
	downErr   error

	downgradeCalls int
}

func (s *stubStudents) List(_ context.Context, _ *domain.Account) ([]domain.Student, error) {
	return s.students, s.listErr
}

func (s *stubStudents) Create(_ context.Context, _ *domain.Account, _ domain.StudentCreateParams) (*domain.Student, error) {
	return s.created, s.createErr
}

func (s *stubStudents) DowngradeSelection(_ context.Context, _ *domain.Account, _ []uuid.UUID) (*domain.DowngradeResult, error) {
	s.downgradeCalls++
	return s.result, s.downErr
}
