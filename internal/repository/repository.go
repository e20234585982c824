// Package repository implements Postgres persistence for accounts,
// sessions, and student records.
//
// Queries go through database/sql with the pgx stdlib driver. The embedded
// Apple subscription record is stored as a single nullable JSONB column on
// the account row; NULL means "no Apple purchase on record".
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// ErrNotFound is returned when a requested row does not exist.
// Services translate it into domain errors with operation context.
var ErrNotFound = errors.New("repository: not found")

// Store provides access to the Postgres database.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// accountColumns is the select list shared by all account queries.
const accountColumns = `id, email, password_hash, name, stripe_customer_id,
	subscription_status, subscription_id, apple_subscription, created_at, updated_at`

// scanAccount scans one account row, decoding the Apple subscription JSONB
// when present.
func scanAccount(row interface{ Scan(...any) error }) (*domain.Account, error) {
	var (
		a         domain.Account
		status    string
		appleJSON pqtype.NullRawMessage
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.Name,
		&a.StripeCustomerID,
		&status,
		&a.SubscriptionID,
		&appleJSON,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.SubscriptionStatus = domain.SubscriptionStatus(status)
	if appleJSON.Valid {
		var rec domain.AppleSubscriptionRecord
		if err := json.Unmarshal(appleJSON.RawMessage, &rec); err != nil {
			return nil, fmt.Errorf("decode apple subscription: %w", err)
		}
		a.AppleSubscription = &rec
	}
	return &a, nil
}

// CreateAccount inserts a new account. Returns ErrConflict via the unique
// email index; callers should check for pg unique violations upstream.
func (s *Store) CreateAccount(ctx context.Context, email, passwordHash, name string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, name, subscription_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+accountColumns,
		uuid.New(), email, passwordHash, name, string(domain.SubscriptionStatusNone),
	)
	return scanAccount(row)
}

// GetAccountByID fetches an account by primary key.
func (s *Store) GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetAccountByEmail fetches an account by email. Email lookups are
// case-insensitive; the column has a unique lower(email) index.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email)
	return scanAccount(row)
}

// UpdateStripeCustomerID records the billing customer ID for an account.
// The write only lands when no customer is linked yet, so a concurrent
// checkout cannot overwrite an already-linked customer.
func (s *Store) UpdateStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1 AND (stripe_customer_id IS NULL OR stripe_customer_id = '')`,
		id, customerID)
	return err
}

// UpdateSubscriptionSnapshot stores the display-only subscription snapshot
// maintained by the webhook handler.
func (s *Store) UpdateSubscriptionSnapshot(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus, subscriptionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET subscription_status = $2, subscription_id = $3, updated_at = now()
		WHERE id = $1`,
		id, string(status), subscriptionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAccountByStripeCustomerID fetches the account linked to a billing customer.
func (s *Store) GetAccountByStripeCustomerID(ctx context.Context, customerID string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, customerID)
	return scanAccount(row)
}

// ReplaceAppleSubscription overwrites the embedded Apple subscription
// record. This is a full replace: prior state is discarded, not merged.
func (s *Store) ReplaceAppleSubscription(ctx context.Context, id uuid.UUID, rec *domain.AppleSubscriptionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode apple subscription: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET apple_subscription = $2, updated_at = now()
		WHERE id = $1`,
		id, pqtype.NullRawMessage{RawMessage: raw, Valid: true})
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession inserts a session row for the account.
func (s *Store) CreateSession(ctx context.Context, accountID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, account_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), accountID, tokenHash, expiresAt)
	return err
}

// GetAccountBySessionTokenHash resolves a session token hash to its account,
// skipping expired sessions.
func (s *Store) GetAccountBySessionTokenHash(ctx context.Context, tokenHash string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.email, a.password_hash, a.name, a.stripe_customer_id,
			a.subscription_status, a.subscription_id, a.apple_subscription,
			a.created_at, a.updated_at
		FROM sessions s
		JOIN accounts a ON a.id = s.account_id
		WHERE s.token_hash = $1 AND s.expires_at > now()`,
		tokenHash)
	return scanAccount(row)
}

// DeleteSessionByTokenHash removes a session. Deleting a missing session is
// not an error (logout is idempotent).
func (s *Store) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

const studentColumns = `id, account_id, name, grade, notes, created_at, updated_at`

func scanStudent(row interface{ Scan(...any) error }) (*domain.Student, error) {
	var st domain.Student
	err := row.Scan(&st.ID, &st.AccountID, &st.Name, &st.Grade, &st.Notes, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

// CreateStudent inserts a student record for the account.
func (s *Store) CreateStudent(ctx context.Context, accountID uuid.UUID, params domain.StudentCreateParams) (*domain.Student, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO students (id, account_id, name, grade, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+studentColumns,
		uuid.New(), accountID, params.Name, params.Grade, params.Notes)
	return scanStudent(row)
}

// ListStudentsByAccount returns all students owned by the account, oldest first.
func (s *Store) ListStudentsByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+studentColumns+`
		FROM students
		WHERE account_id = $1
		ORDER BY created_at ASC`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []domain.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, *st)
	}
	return students, rows.Err()
}

// CountStudentsByAccount returns how many students the account holds.
func (s *Store) CountStudentsByAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM students WHERE account_id = $1`, accountID).Scan(&count)
	return count, err
}

// DeleteStudent removes a student owned by the account. Returns ErrNotFound
// when the student does not exist or belongs to another account.
func (s *Store) DeleteStudent(ctx context.Context, accountID, studentID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM students WHERE id = $1 AND account_id = $2`, studentID, accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
