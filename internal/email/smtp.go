package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/DukeRupert/caseload/internal/domain"
)

// SMTPEmailService sends plain text emails via SMTP.
//
// This implementation works with:
// - Mailhog (development): No authentication required
// - Any standard SMTP relay (production): Uses username/password authentication
type SMTPEmailService struct {
	config SMTPConfig
	logger *slog.Logger
}

// NewSMTPEmailService creates a new SMTP-based email service.
func NewSMTPEmailService(config SMTPConfig, logger *slog.Logger) *SMTPEmailService {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	return &SMTPEmailService{
		config: config,
		logger: logger,
	}
}

// SendSubscriptionActiveEmail confirms that a subscription has started.
func (s *SMTPEmailService) SendSubscriptionActiveEmail(ctx context.Context, to, name string) error {
	if name == "" {
		name = "there"
	}

	body := fmt.Sprintf(`Hi %s,

Your Caseload subscription is active. You now have unlimited student records.

Manage your subscription anytime at %s/billing.

Thanks,
The Caseload Team
`, name, s.config.BaseURL)

	return s.send(ctx, Email{
		To:      to,
		Subject: "Your Caseload subscription is active",
		Body:    body,
	})
}

// SendDowngradeNotice warns an account that its subscription has ended.
func (s *SMTPEmailService) SendDowngradeNotice(ctx context.Context, to, name string, studentCount int) error {
	if name == "" {
		name = "there"
	}

	body := fmt.Sprintf(`Hi %s,

Your Caseload subscription has ended. The free plan includes up to %d
student records, and your account currently has %d.

To keep using Caseload you can resubscribe at %s/billing, or open the
app and choose which %d students to keep. Records you do not keep will
be permanently deleted.

Thanks,
The Caseload Team
`, name, domain.FreeTierStudentLimit, studentCount, s.config.BaseURL, domain.FreeTierStudentLimit)

	return s.send(ctx, Email{
		To:      to,
		Subject: "Your Caseload subscription has ended",
		Body:    body,
	})
}

// send sends an email via SMTP.
func (s *SMTPEmailService) send(ctx context.Context, email Email) error {
	msg := s.buildMessage(email)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	// Auth only when credentials are provided (not needed for Mailhog)
	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	err := smtp.SendMail(addr, auth, s.config.From, []string{email.To}, msg)
	if err != nil {
		s.logger.Error("failed to send email",
			"to", email.To,
			"subject", email.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		"to", email.To,
		"subject", email.Subject,
	)

	return nil
}

// buildMessage constructs the raw email message with headers.
func (s *SMTPEmailService) buildMessage(email Email) []byte {
	var buf bytes.Buffer

	fromHeader := fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)

	buf.WriteString(fmt.Sprintf("From: %s\r\n", fromHeader))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.Body)

	return buf.Bytes()
}

var _ EmailService = (*SMTPEmailService)(nil)
