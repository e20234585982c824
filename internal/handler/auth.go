package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/caseload/internal/auth"
	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/DukeRupert/caseload/internal/middleware"
	"github.com/DukeRupert/caseload/internal/service"
	"github.com/google/uuid"
)

// AuthHandler handles account registration and session lifecycle.
type AuthHandler struct {
	accounts service.AccountService
	logger   *slog.Logger
	isSecure bool
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(accounts service.AccountService, logger *slog.Logger, isSecure bool) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		logger:   logger,
		isSecure: isSecure,
	}
}

// RegisterRoutes registers auth routes on the provided mux.
// Register and login are left outside the session middleware; logout
// requires an authenticated session.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, requireAccount func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /auth/register", h.Register)
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.Handle("POST /auth/logout", requireAccount(http.HandlerFunc(h.Logout)))
	mux.Handle("GET /auth/me", requireAccount(http.HandlerFunc(h.Me)))
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type accountView struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name,omitempty"`
}

func toAccountView(a *domain.Account) accountView {
	return accountView{
		ID:    a.ID,
		Email: a.Email,
		Name:  a.Name,
	}
}

// Register creates a new account and logs it in immediately.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var verr error
	if strings.TrimSpace(req.Email) == "" {
		verr = domain.AddFieldError(verr, "email", "Email is required")
	}
	if req.Password == "" {
		verr = domain.AddFieldError(verr, "password", "Password is required")
	} else if len(req.Password) < service.MinPasswordLength {
		verr = domain.AddFieldError(verr, "password",
			fmt.Sprintf("Password must be at least %d characters", service.MinPasswordLength))
	}
	if verr != nil {
		ValidationErrorResponse(w, r, h.logger, verr)
		return
	}

	account, err := h.accounts.Register(r.Context(), domain.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// Account exists but the session could not be created. The client
		// can still log in normally.
		h.logger.Error("post-registration login failed",
			"email", account.Email,
			"error", err,
		)
		respondJSON(w, h.logger, http.StatusCreated, toAccountView(account))
		return
	}

	middleware.SetSessionCookie(w, result.Token, h.isSecure)
	respondJSON(w, h.logger, http.StatusCreated, toAccountView(result.Account))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and issues a session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	middleware.SetSessionCookie(w, result.Token, h.isSecure)
	respondJSON(w, h.logger, http.StatusOK, toAccountView(result.Account))
}

// Logout revokes the current session and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil {
		if err := h.accounts.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Error("logout failed", "error", err)
		}
	}

	middleware.ClearSessionCookie(w, h.isSecure)
	respondJSON(w, h.logger, http.StatusOK, map[string]bool{"success": true})
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromRequest(r)
	if account == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, toAccountView(account))
}
