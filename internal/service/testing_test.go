package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/caseload/internal/billing"
	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/DukeRupert/caseload/internal/repository"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

// Shared in-memory fakes for service tests.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGateway struct {
	mu               sync.Mutex
	customersByEmail map[string]string
	customersByKey   map[string]string
	subs             []domain.BillingSubscription

	findErr     error
	listErr     error
	createErr   error
	checkoutErr error
	portalErr   error

	checkoutURL string
	portalURL   string

	// onFind runs during FindCustomerByEmail, outside the lock. Tests use
	// it to line up concurrent callers at the lookup/create gap.
	onFind func()

	createCustomerCalls int
	lastCustomer        billing.CustomerParams
	lastCheckout        billing.CheckoutParams
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		customersByEmail: map[string]string{},
		customersByKey:   map[string]string{},
		checkoutURL:      "https://checkout.example.com/session",
		portalURL:        "https://billing.example.com/portal",
	}
}

func (g *fakeGateway) FindCustomerByEmail(_ context.Context, email string) (string, error) {
	g.mu.Lock()
	id := g.customersByEmail[email]
	hook := g.onFind
	err := g.findErr
	g.mu.Unlock()
	if err != nil {
		return "", err
	}
	if hook != nil {
		hook()
	}
	return id, nil
}

func (g *fakeGateway) ListSubscriptionsForEmail(_ context.Context, _ string) ([]domain.BillingSubscription, error) {
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.subs, nil
}

func (g *fakeGateway) CreateCustomer(_ context.Context, cp billing.CustomerParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	// Same idempotency key replays the original result, like the
	// processor does.
	if cp.IdempotencyKey != "" {
		if id, ok := g.customersByKey[cp.IdempotencyKey]; ok {
			return id, nil
		}
	}
	g.createCustomerCalls++
	id := fmt.Sprintf("cus_test_%d", g.createCustomerCalls)
	g.customersByEmail[cp.Email] = id
	if cp.IdempotencyKey != "" {
		g.customersByKey[cp.IdempotencyKey] = id
	}
	g.lastCustomer = cp
	return id, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, cp billing.CheckoutParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkoutErr != nil {
		return "", g.checkoutErr
	}
	g.lastCheckout = cp
	return g.checkoutURL, nil
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, _, _ string) (string, error) {
	if g.portalErr != nil {
		return "", g.portalErr
	}
	return g.portalURL, nil
}

func (g *fakeGateway) VerifyWebhookSignature(_ []byte, _ string) (stripe.Event, error) {
	return stripe.Event{}, errors.New("not implemented in fake")
}

var _ billing.Gateway = (*fakeGateway)(nil)

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.Account
	sessions map[string]uuid.UUID // token hash -> account ID

	replaceAppleErr error
	replaceCalls    int
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{
		accounts: map[uuid.UUID]*domain.Account{},
		sessions: map[string]uuid.UUID{},
	}
}

func (f *fakeAccountStore) addAccount(a *domain.Account) *domain.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	f.accounts[a.ID] = a
	return a
}

func (f *fakeAccountStore) CreateAccount(_ context.Context, email, passwordHash, name string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &domain.Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		CreatedAt:    time.Now(),
	}
	f.accounts[a.ID] = a
	return a, nil
}

func (f *fakeAccountStore) GetAccountByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		return a, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountStore) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountStore) GetAccountByStripeCustomerID(_ context.Context, customerID string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.StripeCustomerID == customerID {
			return a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountStore) UpdateStripeCustomerID(_ context.Context, id uuid.UUID, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok && a.StripeCustomerID == "" {
		a.StripeCustomerID = customerID
	}
	return nil
}

func (f *fakeAccountStore) UpdateSubscriptionSnapshot(_ context.Context, id uuid.UUID, status domain.SubscriptionStatus, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.SubscriptionStatus = status
	a.SubscriptionID = subscriptionID
	return nil
}

func (f *fakeAccountStore) ReplaceAppleSubscription(_ context.Context, id uuid.UUID, rec *domain.AppleSubscriptionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceAppleErr != nil {
		return f.replaceAppleErr
	}
	a, ok := f.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	f.replaceCalls++
	a.AppleSubscription = rec
	return nil
}

func (f *fakeAccountStore) CreateSession(_ context.Context, accountID uuid.UUID, tokenHash string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = accountID
	return nil
}

func (f *fakeAccountStore) GetAccountBySessionTokenHash(_ context.Context, tokenHash string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.sessions[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.accounts[id], nil
}

func (f *fakeAccountStore) DeleteSessionByTokenHash(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

var _ AccountStore = (*fakeAccountStore)(nil)

type fakeStudentStore struct {
	mu       sync.Mutex
	students map[uuid.UUID]domain.Student

	deleteErrs map[uuid.UUID]error // per-student forced failures
}

func newFakeStudentStore() *fakeStudentStore {
	return &fakeStudentStore{
		students:   map[uuid.UUID]domain.Student{},
		deleteErrs: map[uuid.UUID]error{},
	}
}

func (f *fakeStudentStore) seed(accountID uuid.UUID, n int) []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		st := domain.Student{
			ID:        uuid.New(),
			AccountID: accountID,
			Name:      "Student",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		f.students[st.ID] = st
		ids = append(ids, st.ID)
	}
	return ids
}

func (f *fakeStudentStore) CreateStudent(_ context.Context, accountID uuid.UUID, params domain.StudentCreateParams) (*domain.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := domain.Student{
		ID:        uuid.New(),
		AccountID: accountID,
		Name:      params.Name,
		Grade:     params.Grade,
		Notes:     params.Notes,
		CreatedAt: time.Now(),
	}
	f.students[st.ID] = st
	return &st, nil
}

func (f *fakeStudentStore) ListStudentsByAccount(_ context.Context, accountID uuid.UUID) ([]domain.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Student
	for _, st := range f.students {
		if st.AccountID == accountID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeStudentStore) CountStudentsByAccount(_ context.Context, accountID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, st := range f.students {
		if st.AccountID == accountID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStudentStore) DeleteStudent(_ context.Context, accountID, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deleteErrs[id]; ok {
		return err
	}
	st, ok := f.students[id]
	if !ok || st.AccountID != accountID {
		return repository.ErrNotFound
	}
	delete(f.students, id)
	return nil
}

var _ StudentStore = (*fakeStudentStore)(nil)

// fakeSource is a scripted entitlement source.
type fakeSource struct {
	name     string
	entitled bool
	ok       bool
	calls    int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Check(_ context.Context, _ *domain.Account) (bool, bool) {
	s.calls++
	return s.entitled, s.ok
}

// fixedEntitlement always resolves to the same answer.
type fixedEntitlement struct {
	entitled bool
	err      error
}

func (f fixedEntitlement) Resolve(_ context.Context, _ *domain.Account) (bool, error) {
	return f.entitled, f.err
}
