package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// ServiceKeyHeader carries the credential for server-to-server calls.
const ServiceKeyHeader = "X-Service-Key"

// ServiceKeyMiddleware authenticates trusted server-to-server callers.
//
// This is a distinct boundary from session auth: the Apple activation flow
// is driven by the platform-side server, not by an end-user session, so it
// presents a shared service key instead of a session cookie. A session
// token never satisfies this check.
type ServiceKeyMiddleware struct {
	key    string
	logger *slog.Logger
}

// NewServiceKeyMiddleware creates a new ServiceKeyMiddleware.
// An empty key disables the boundary entirely: every request is rejected,
// so a misconfigured deployment fails closed.
func NewServiceKeyMiddleware(key string, logger *slog.Logger) *ServiceKeyMiddleware {
	return &ServiceKeyMiddleware{
		key:    key,
		logger: logger,
	}
}

// Require rejects requests that do not present the service key.
func (m *ServiceKeyMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(ServiceKeyHeader)
		if m.key == "" || presented == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(m.key)) != 1 {
			m.logger.Warn("service key rejected",
				"path", r.URL.Path,
				"present", presented != "",
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"unauthorized","message":"You must be logged in to access this resource."}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
