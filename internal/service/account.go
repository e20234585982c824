// Package service contains the business logic layer.
//
// Services orchestrate interactions between the repository, the billing
// gateway, and domain logic. They are responsible for:
// - Input validation
// - Business rule enforcement
// - Error translation (database errors -> domain errors)
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/DukeRupert/caseload/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt password hashing.
	// Cost 12 provides good security (~250ms on modern hardware) while being
	// fast enough for login flows.
	BcryptCost = 12

	// SessionTokenBytes is the number of random bytes for session tokens.
	// 32 bytes = 256 bits of entropy. The token is hex-encoded to 64
	// characters for storage and transmission.
	SessionTokenBytes = 32

	// SessionDuration is how long a session remains valid.
	SessionDuration = 7 * 24 * time.Hour

	// MinPasswordLength is the minimum password length.
	MinPasswordLength = 8

	// MaxPasswordLength prevents DoS via bcrypt on very long passwords.
	// bcrypt has a 72-byte limit anyway.
	MaxPasswordLength = 72
)

// AccountStore defines the persistence operations the account service needs.
// *repository.Store satisfies it; tests supply fakes.
type AccountStore interface {
	CreateAccount(ctx context.Context, email, passwordHash, name string) (*domain.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetAccountByStripeCustomerID(ctx context.Context, customerID string) (*domain.Account, error)
	UpdateStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
	UpdateSubscriptionSnapshot(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus, subscriptionID string) error
	ReplaceAppleSubscription(ctx context.Context, id uuid.UUID, rec *domain.AppleSubscriptionRecord) error
	CreateSession(ctx context.Context, accountID uuid.UUID, tokenHash string, expiresAt time.Time) error
	GetAccountBySessionTokenHash(ctx context.Context, tokenHash string) (*domain.Account, error)
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
}

// AccountService defines the interface for account-related operations.
type AccountService interface {
	// Register creates a new account.
	// Returns domain.ECONFLICT if the email already exists.
	Register(ctx context.Context, params domain.RegisterParams) (*domain.Account, error)

	// Login authenticates an account and creates a new session.
	// Returns domain.EUNAUTHORIZED for invalid credentials.
	Login(ctx context.Context, email, password string) (*domain.LoginResult, error)

	// Logout invalidates a session by its raw token. Idempotent.
	Logout(ctx context.Context, token string) error

	// GetBySessionToken validates a session token and returns its account.
	// Returns domain.EUNAUTHORIZED if the token is invalid or expired.
	GetBySessionToken(ctx context.Context, token string) (*domain.Account, error)

	// GetByEmail retrieves an account by email. This is the service-level
	// lookup path used by trusted server-to-server callers; it bypasses the
	// per-user session scope, so handlers must gate it behind the service
	// key boundary.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)

	// GetByStripeCustomerID retrieves the account linked to a billing customer.
	GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.Account, error)

	// UpdateStripeCustomer records the billing customer ID for an account.
	UpdateStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error

	// UpdateSubscriptionSnapshot stores the display-only subscription
	// snapshot (status + subscription ID) maintained from webhook events.
	UpdateSubscriptionSnapshot(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus, subscriptionID string) error

	// ActivateAppleSubscription records an Apple in-app purchase against
	// the account identified by email. The write is a full replace of the
	// embedded record; re-activation with the same transaction simply
	// rewrites it (last-writer-wins, no duplicate detection).
	ActivateAppleSubscription(ctx context.Context, params domain.AppleActivationParams) (*domain.Account, error)
}

type accountService struct {
	store  AccountStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAccountService creates a new AccountService.
func NewAccountService(store AccountStore, logger *slog.Logger) AccountService {
	return &accountService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (s *accountService) Register(ctx context.Context, params domain.RegisterParams) (*domain.Account, error) {
	const op = "account.register"

	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.Invalid(op, "A valid email address is required")
	}
	if len(params.Password) < MinPasswordLength {
		return nil, domain.Invalid(op, "Password must be at least 8 characters")
	}
	if len(params.Password) > MaxPasswordLength {
		return nil, domain.Invalid(op, "Password is too long")
	}

	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return nil, domain.Conflict(op, "An account with this email already exists")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, domain.Internal(err, op, "failed to check existing account")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), BcryptCost)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to hash password")
	}

	account, err := s.store.CreateAccount(ctx, email, string(hash), strings.TrimSpace(params.Name))
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create account")
	}

	s.logger.Info("account registered", "account_id", account.ID, "email", account.Email)
	return account, nil
}

func (s *accountService) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	const op = "account.login"

	account, err := s.store.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Burn a bcrypt comparison so missing accounts cost the same
			// as wrong passwords.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$12$invalidinvalidinvalidinvalidinvalidinvalidinvalidinva"), []byte(password))
			return nil, domain.Unauthorized(op, "Invalid email or password")
		}
		return nil, domain.Internal(err, op, "failed to look up account")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, domain.Unauthorized(op, "Invalid email or password")
	}

	token, err := generateSessionToken()
	if err != nil {
		return nil, domain.Internal(err, op, "failed to generate session token")
	}

	if err := s.store.CreateSession(ctx, account.ID, hashSessionToken(token), s.now().Add(SessionDuration)); err != nil {
		return nil, domain.Internal(err, op, "failed to create session")
	}

	return &domain.LoginResult{Account: account, Token: token}, nil
}

func (s *accountService) Logout(ctx context.Context, token string) error {
	const op = "account.logout"

	if token == "" {
		return nil
	}
	if err := s.store.DeleteSessionByTokenHash(ctx, hashSessionToken(token)); err != nil {
		return domain.Internal(err, op, "failed to delete session")
	}
	return nil
}

func (s *accountService) GetBySessionToken(ctx context.Context, token string) (*domain.Account, error) {
	const op = "account.get_by_session"

	account, err := s.store.GetAccountBySessionTokenHash(ctx, hashSessionToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Unauthorized(op, "Invalid or expired session")
		}
		return nil, domain.Internal(err, op, "failed to look up session")
	}
	return account, nil
}

func (s *accountService) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	const op = "account.get_by_email"

	account, err := s.store.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound(op, "account", email)
		}
		return nil, domain.Internal(err, op, "failed to look up account")
	}
	return account, nil
}

func (s *accountService) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.Account, error) {
	const op = "account.get_by_customer"

	account, err := s.store.GetAccountByStripeCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound(op, "account", customerID)
		}
		return nil, domain.Internal(err, op, "failed to look up account")
	}
	return account, nil
}

func (s *accountService) UpdateStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	const op = "account.update_customer"

	if err := s.store.UpdateStripeCustomerID(ctx, id, customerID); err != nil {
		return domain.Internal(err, op, "failed to save billing customer")
	}
	return nil
}

func (s *accountService) UpdateSubscriptionSnapshot(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus, subscriptionID string) error {
	const op = "account.update_subscription"

	if err := s.store.UpdateSubscriptionSnapshot(ctx, id, status, subscriptionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NotFound(op, "account", id.String())
		}
		return domain.Internal(err, op, "failed to save subscription snapshot")
	}
	return nil
}

func (s *accountService) ActivateAppleSubscription(ctx context.Context, params domain.AppleActivationParams) (*domain.Account, error) {
	const op = "account.apple_activate"

	if strings.TrimSpace(params.Email) == "" {
		return nil, domain.Invalid(op, "userEmail is required")
	}
	if params.OriginalTransactionID == "" {
		return nil, domain.Invalid(op, "originalTransactionId is required")
	}
	if params.ProductID == "" {
		return nil, domain.Invalid(op, "productId is required")
	}
	if params.ExpirationDate.IsZero() {
		return nil, domain.Invalid(op, "expirationDate is required")
	}

	account, err := s.GetByEmail(ctx, params.Email)
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := &domain.AppleSubscriptionRecord{
		OriginalTransactionID: params.OriginalTransactionID,
		ProductID:             params.ProductID,
		ExpirationDate:        params.ExpirationDate,
		ActivatedAt:           now,
		// Snapshot only. Gating always re-derives from ExpirationDate.
		IsActive: params.ExpirationDate.After(now),
	}

	if err := s.store.ReplaceAppleSubscription(ctx, account.ID, record); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound(op, "account", params.Email)
		}
		return nil, domain.Internal(err, op, "failed to save apple subscription")
	}

	s.logger.Info("apple subscription activated",
		"account_id", account.ID,
		"product_id", record.ProductID,
		"expires_at", record.ExpirationDate,
		"is_active", record.IsActive,
	)

	// Return what was actually persisted, not the in-memory copy.
	updated, err := s.store.GetAccountByID(ctx, account.ID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to reload account")
	}
	return updated, nil
}

// generateSessionToken returns a hex-encoded random token.
func generateSessionToken() (string, error) {
	buf := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// hashSessionToken returns the SHA-256 hex digest stored in place of the
// raw token.
func hashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
