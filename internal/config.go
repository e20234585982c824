package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Application base URL (checkout/portal return links)
	BaseURL string

	// Stripe Billing Configuration
	// Required in production; in development the billing endpoints report
	// billing as unconfigured when these are empty.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Default price used for checkout when the request does not override it.
	StripeDefaultPriceID string

	// AppIdentifier tags checkout metadata so subscriptions created by this
	// application can be reconciled later.
	AppIdentifier string

	// StripeTimeout bounds every Stripe API call.
	StripeTimeout time.Duration

	// ActivationServiceKey authenticates server-to-server Apple activation
	// calls. End-user sessions never reach the activation endpoint.
	ActivationServiceKey string

	// SMTP Configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		// Stripe billing (optional in development)
		StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeDefaultPriceID: getEnv("STRIPE_DEFAULT_PRICE_ID", ""),
		AppIdentifier:        getEnv("APP_IDENTIFIER", "caseload"),
		StripeTimeout:        getEnvDuration("STRIPE_TIMEOUT", 10*time.Second),

		ActivationServiceKey: getEnv("ACTIVATION_SERVICE_KEY", ""),

		// SMTP defaults for Mailhog (development)
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@caseload.app"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Caseload"),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Billing must be fully configured or not at all
	if cfg.StripeSecretKey != "" && cfg.StripeDefaultPriceID == "" {
		return nil, fmt.Errorf("STRIPE_DEFAULT_PRICE_ID is required when STRIPE_SECRET_KEY is set")
	}

	if cfg.Env != "development" && cfg.ActivationServiceKey == "" {
		return nil, fmt.Errorf("ACTIVATION_SERVICE_KEY is required outside development")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
