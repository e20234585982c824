package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/caseload/internal/domain"
)

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.EUNAUTHORIZED, http.StatusUnauthorized},
		{domain.EPAYMENT, http.StatusPaymentRequired},
		{domain.EFORBIDDEN, http.StatusForbidden},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.EUPSTREAM, http.StatusInternalServerError},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{"something_else", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ErrorCodeToHTTPStatus(tt.code); got != tt.want {
				t.Errorf("expected %d for %s, got %d", tt.want, tt.code, got)
			}
		})
	}
}

func TestErrorResponse_InternalDetailsNotExposed(t *testing.T) {
	err := domain.Internal(nil, "repository.Store.CreateStudent", "pq: connection refused on 10.0.0.5")

	req := httptest.NewRequest("POST", "/students", nil)
	rec := httptest.NewRecorder()
	ErrorResponse(rec, req, testLogger(), err)

	body := rec.Body.String()
	if strings.Contains(body, "repository.Store") {
		t.Errorf("response exposes internal operation name: %s", body)
	}
	if strings.Contains(body, "10.0.0.5") {
		t.Errorf("response exposes internal error details: %s", body)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestErrorResponse_ClientMessagePassedThrough(t *testing.T) {
	err := domain.PaymentRequired("student.create", "Free accounts are limited to 3 students. Upgrade to add more.")

	req := httptest.NewRequest("POST", "/students", nil)
	rec := httptest.NewRecorder()
	ErrorResponse(rec, req, testLogger(), err)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "limited to 3 students") {
		t.Errorf("client-safe message should pass through, got: %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}

func TestErrorResponse_NonDomainError(t *testing.T) {
	req := httptest.NewRequest("GET", "/billing/status", nil)
	rec := httptest.NewRecorder()
	ErrorResponse(rec, req, testLogger(), http.ErrBodyNotAllowed)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for a bare error, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "body not allowed") {
		t.Errorf("raw error text leaked to the client: %s", rec.Body.String())
	}
}
