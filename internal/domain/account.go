// Package domain contains core business types and interfaces.
//
// This file defines the Account domain type and the billing-related types
// attached to it. Account is the domain representation used by business
// logic; it is mapped from repository rows so the database layer stays
// decoupled from access-control decisions.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the possible states of a billing subscription.
// The values mirror the payment processor's status vocabulary so webhook
// payloads and API reads can be stored without translation.
type SubscriptionStatus string

const (
	SubscriptionStatusNone       SubscriptionStatus = "none"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// IsEntitling reports whether this status grants premium access.
// Only active and trialing subscriptions entitle; everything else,
// including past_due, does not.
func (s SubscriptionStatus) IsEntitling() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Account represents a registered account on the platform.
type Account struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string // Never expose this in API responses
	Name         string

	// Billing linkage. StripeCustomerID is created lazily on first checkout.
	// SubscriptionStatus and SubscriptionID are a display snapshot kept
	// current by the webhook handler; entitlement decisions never read them.
	StripeCustomerID   string
	SubscriptionStatus SubscriptionStatus
	SubscriptionID     string

	// AppleSubscription is the last known in-app-purchase record, or nil
	// when the account has never activated a purchase from the mobile app.
	AppleSubscription *AppleSubscriptionRecord

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName returns the account's name or email if the name is empty.
func (a *Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Email
}

// AppleSubscriptionRecord holds the last known Apple in-app-purchase facts
// for an account. It is persisted as a single JSONB value on the account row;
// absence of the value means "no Apple purchase on record".
type AppleSubscriptionRecord struct {
	OriginalTransactionID string    `json:"originalTransactionId"`
	ProductID             string    `json:"productId"`
	ExpirationDate        time.Time `json:"expirationDate"`
	ActivatedAt           time.Time `json:"activatedAt"`

	// IsActive is a snapshot computed at write time. It is stored for
	// display and debugging only; access control must call ActiveAt with
	// the server clock instead of trusting this flag.
	IsActive bool `json:"isActive"`
}

// ActiveAt reports whether the record grants access at the given instant.
// The comparison is strictly greater-than: a record expiring exactly at
// now does not entitle.
func (r *AppleSubscriptionRecord) ActiveAt(now time.Time) bool {
	if r == nil {
		return false
	}
	return r.ExpirationDate.After(now)
}

// BillingSubscription is the domain view of a subscription held at the
// payment processor. Timestamps are unix seconds as reported by the
// processor's API.
type BillingSubscription struct {
	ID                string
	Status            SubscriptionStatus
	TrialEnd          int64
	CurrentPeriodEnd  int64
	Created           int64
	CancelAtPeriodEnd bool
}

// IsEntitling reports whether the subscription grants premium access.
func (s BillingSubscription) IsEntitling() bool {
	return s.Status.IsEntitling()
}

// SubscriptionStatusView is the normalized status surface for UI banners.
// TrialEnd and CurrentPeriodEnd are unix seconds, zero when not applicable.
type SubscriptionStatusView struct {
	Status           SubscriptionStatus `json:"status"`
	IsActive         bool               `json:"isActive"`
	IsTrial          bool               `json:"isTrial"`
	TrialEnd         int64              `json:"trialEnd,omitempty"`
	CurrentPeriodEnd int64              `json:"currentPeriodEnd,omitempty"`
}

// Session represents an authenticated session.
//
// Sessions are stored with a hashed token. The raw token is only given to
// the client once, at login.
type Session struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	TokenHash string // SHA-256 hash of the session token
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// RegisterParams contains the validated parameters for account registration.
type RegisterParams struct {
	Email    string
	Password string // Raw password, hashed by the service
	Name     string
}

// LoginResult contains the result of a successful login.
type LoginResult struct {
	Account *Account
	Token   string // Raw session token (not hashed), only returned once
}

// AppleActivationParams contains the parameters for recording an Apple
// in-app purchase against an account. All fields are required.
type AppleActivationParams struct {
	Email                 string
	OriginalTransactionID string
	ProductID             string
	ExpirationDate        time.Time
}
