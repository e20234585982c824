// Package email provides transactional email sending for caseload.
//
// This package defines an EmailService interface with an SMTP
// implementation (Mailhog for development, any standard SMTP relay for
// production). Sending is best-effort: callers log failures and continue,
// email never blocks a billing or entitlement operation.
package email

import (
	"context"
)

// EmailService defines the interface for sending transactional emails.
type EmailService interface {
	// SendSubscriptionActiveEmail confirms that a subscription has started
	// (paid checkout completed or trial began).
	SendSubscriptionActiveEmail(ctx context.Context, to, name string) error

	// SendDowngradeNotice warns an account that its subscription has ended
	// and student records above the free limit must be resolved.
	SendDowngradeNotice(ctx context.Context, to, name string, studentCount int) error
}

// Email represents a single email message.
type Email struct {
	To      string // Recipient email address
	Subject string // Email subject line
	Body    string // Plain text content
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
	BaseURL  string // App URL used for links in email bodies
}

const (
	// DefaultFromEmail is the default sender email for transactional emails.
	DefaultFromEmail = "noreply@caseload.app"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "Caseload"
)

// NoopEmailService discards all emails. Used when SMTP is not configured.
type NoopEmailService struct{}

func (NoopEmailService) SendSubscriptionActiveEmail(ctx context.Context, to, name string) error {
	return nil
}

func (NoopEmailService) SendDowngradeNotice(ctx context.Context, to, name string, studentCount int) error {
	return nil
}

var _ EmailService = NoopEmailService{}
