package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/caseload/internal"
	"github.com/DukeRupert/caseload/internal/billing"
	"github.com/DukeRupert/caseload/internal/email"
	"github.com/DukeRupert/caseload/internal/handler"
	"github.com/DukeRupert/caseload/internal/metrics"
	"github.com/DukeRupert/caseload/internal/middleware"
	"github.com/DukeRupert/caseload/internal/repository"
	"github.com/DukeRupert/caseload/internal/service"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	repo := repository.New(db)

	// Initialize billing gateway. A nil gateway leaves entitlement running
	// on the Apple record alone and billing endpoints unconfigured.
	var gateway billing.Gateway
	if cfg.StripeSecretKey != "" {
		gateway = billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.AppIdentifier, cfg.StripeTimeout)
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("Stripe billing disabled, no STRIPE_SECRET_KEY configured")
	}

	// Initialize email
	var mailer email.EmailService = email.NoopEmailService{}
	if cfg.SMTPHost != "" {
		mailer = email.NewSMTPEmailService(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			BaseURL:  cfg.BaseURL,
		}, logger)
	}

	// Initialize services
	accountService := service.NewAccountService(repo, logger)
	entitlementService := service.NewEntitlementService(gateway, logger)
	studentService := service.NewStudentService(repo, entitlementService, logger)

	var billingService service.BillingService
	if gateway != nil {
		billingService = service.NewBillingService(gateway, accountService, cfg.StripeDefaultPriceID, logger)
	}

	// Initialize middleware
	isSecure := cfg.Env != "development"
	authMw := middleware.NewAuthMiddleware(accountService, logger, isSecure)
	serviceKeyMw := middleware.NewServiceKeyMiddleware(cfg.ActivationServiceKey, logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	authLimiter := middleware.NewRateLimiter(10, time.Minute, logger)
	authRateMw := middleware.NewRateLimitMiddleware(authLimiter, logger)

	requireAccount := middleware.Stack(authMw.WithAccount, authMw.RequireAccount)
	requireServiceKey := serviceKeyMw.Require

	// Initialize handlers
	authHandler := handler.NewAuthHandler(accountService, logger, isSecure)
	entitlementHandler := handler.NewEntitlementHandler(entitlementService, accountService, logger)
	billingHandler := handler.NewBillingHandler(billingService, logger)
	studentHandler := handler.NewStudentHandler(studentService, logger)
	webhookHandler := handler.NewWebhookHandler(gateway, accountService, studentService, mailer, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics (basic auth when configured)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Auth routes are rate limited to slow credential stuffing
	authMux := http.NewServeMux()
	authHandler.RegisterRoutes(authMux, requireAccount)
	mux.Handle("/auth/", authRateMw.Limit(authMux))

	entitlementHandler.RegisterRoutes(mux, requireAccount, requireServiceKey)
	billingHandler.RegisterRoutes(mux, requireAccount)
	studentHandler.RegisterRoutes(mux, requireAccount)
	webhookHandler.RegisterRoutes(mux)

	// Unknown paths get the JSON 404 instead of the mux default
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	// Outer middleware applies to every route
	root := middleware.Stack(
		securityMw.Handler,
		loggingMw.Handler,
		metrics.Middleware,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
