// Package middleware contains HTTP middleware for the caseload API.
//
// Middleware functions follow the standard Go pattern of wrapping
// http.Handler and are composed with Stack.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/caseload/internal/auth"
	"github.com/DukeRupert/caseload/internal/service"
)

const (
	// SessionCookieName is the name of the cookie that stores the session token.
	SessionCookieName = "caseload_session"

	// SessionCookiePath ensures the cookie is sent with all requests.
	SessionCookiePath = "/"

	// SessionCookieMaxAge sets the cookie expiration.
	// Matches SessionDuration in the account service. 7 days in seconds.
	SessionCookieMaxAge = 7 * 24 * 60 * 60
)

// Stack composes middleware so the first listed runs first.
func Stack(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// AuthMiddleware provides session authentication middleware.
type AuthMiddleware struct {
	accounts service.AccountService
	logger   *slog.Logger
	isSecure bool // Whether to set the Secure flag on cookies (true in production)
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(accounts service.AccountService, logger *slog.Logger, isSecure bool) *AuthMiddleware {
	return &AuthMiddleware{
		accounts: accounts,
		logger:   logger,
		isSecure: isSecure,
	}
}

// WithAccount attempts to load the account from the session cookie and
// stores it in the request context. The request continues regardless of
// authentication status; use RequireAccount after this to enforce it.
func (m *AuthMiddleware) WithAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		account, err := m.accounts.GetBySessionToken(r.Context(), cookie.Value)
		if err != nil {
			// Invalid or expired session: clear the cookie and continue
			ClearSessionCookie(w, m.isSecure)
			next.ServeHTTP(w, r)
			return
		}

		r = r.WithContext(auth.SetAccount(r.Context(), account))
		next.ServeHTTP(w, r)
	})
}

// RequireAccount rejects requests with no authenticated account with a 401.
// Must run after WithAccount.
func (m *AuthMiddleware) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetAccount(r.Context()) == nil {
			m.logger.Info("unauthenticated request rejected",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"unauthorized","message":"You must be logged in to access this resource."}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetSessionCookie writes the session cookie after login.
func SetSessionCookie(w http.ResponseWriter, token string, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     SessionCookiePath,
		MaxAge:   SessionCookieMaxAge,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(w http.ResponseWriter, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     SessionCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
