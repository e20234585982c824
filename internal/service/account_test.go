package service

import (
	"context"
	"testing"
	"time"

	"github.com/DukeRupert/caseload/internal/domain"
)

func TestRegister_AndLogin(t *testing.T) {
	store := newFakeAccountStore()
	svc := NewAccountService(store, testLogger())

	account, err := svc.Register(context.Background(), domain.RegisterParams{
		Email:    "New@Example.com",
		Password: "correct horse battery",
		Name:     "Dana",
	})
	if err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if account.Email != "new@example.com" {
		t.Errorf("expected lowercased email, got %q", account.Email)
	}
	if account.PasswordHash == "correct horse battery" {
		t.Error("password must be hashed, not stored raw")
	}

	result, err := svc.Login(context.Background(), "new@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.Token == "" {
		t.Error("expected a session token")
	}

	got, err := svc.GetBySessionToken(context.Background(), result.Token)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if got.ID != account.ID {
		t.Error("session resolved to the wrong account")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	store := newFakeAccountStore()
	svc := NewAccountService(store, testLogger())

	params := domain.RegisterParams{Email: "a@example.com", Password: "long enough pass"}
	if _, err := svc.Register(context.Background(), params); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	_, err := svc.Register(context.Background(), params)
	if domain.ErrorCode(err) != domain.ECONFLICT {
		t.Errorf("expected ECONFLICT, got %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	store := newFakeAccountStore()
	svc := NewAccountService(store, testLogger())

	if _, err := svc.Register(context.Background(), domain.RegisterParams{
		Email: "a@example.com", Password: "long enough pass",
	}); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	_, err := svc.Login(context.Background(), "a@example.com", "wrong password")
	if domain.ErrorCode(err) != domain.EUNAUTHORIZED {
		t.Errorf("expected EUNAUTHORIZED, got %v", err)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc := NewAccountService(newFakeAccountStore(), testLogger())

	_, err := svc.Login(context.Background(), "ghost@example.com", "whatever password")
	if domain.ErrorCode(err) != domain.EUNAUTHORIZED {
		t.Errorf("expected EUNAUTHORIZED, got %v", err)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	svc := NewAccountService(newFakeAccountStore(), testLogger())

	if err := svc.Logout(context.Background(), "no-such-token"); err != nil {
		t.Errorf("logout of an unknown token should succeed: %v", err)
	}
	if err := svc.Logout(context.Background(), ""); err != nil {
		t.Errorf("logout with an empty token should succeed: %v", err)
	}
}

func TestActivateApple_RecordsSubscription(t *testing.T) {
	store := newFakeAccountStore()
	account := store.addAccount(&domain.Account{Email: "a@example.com"})
	svc := NewAccountService(store, testLogger())

	expiry := time.Now().Add(30 * 24 * time.Hour).UTC()
	updated, err := svc.ActivateAppleSubscription(context.Background(), domain.AppleActivationParams{
		Email:                 "a@example.com",
		OriginalTransactionID: "1000000123",
		ProductID:             "premium.monthly",
		ExpirationDate:        expiry,
	})
	if err != nil {
		t.Fatalf("activation failed: %v", err)
	}

	rec := updated.AppleSubscription
	if rec == nil {
		t.Fatal("expected apple record on the account")
	}
	if rec.OriginalTransactionID != "1000000123" || rec.ProductID != "premium.monthly" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.ExpirationDate.Equal(expiry) {
		t.Errorf("expected expiration %v, got %v", expiry, rec.ExpirationDate)
	}
	if !rec.IsActive {
		t.Error("future expiration should snapshot isActive=true")
	}
	if account.AppleSubscription == nil {
		t.Error("expected record persisted to the store")
	}
}

func TestActivateApple_ExpiredRecordStillStored(t *testing.T) {
	store := newFakeAccountStore()
	store.addAccount(&domain.Account{Email: "a@example.com"})
	svc := NewAccountService(store, testLogger())

	// An already-expired record is stored with isActive=false, not rejected:
	// the history matters even when it grants nothing.
	updated, err := svc.ActivateAppleSubscription(context.Background(), domain.AppleActivationParams{
		Email:                 "a@example.com",
		OriginalTransactionID: "1000000123",
		ProductID:             "premium.monthly",
		ExpirationDate:        time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	if updated.AppleSubscription.IsActive {
		t.Error("expired record must snapshot isActive=false")
	}
}

func TestActivateApple_MissingFields(t *testing.T) {
	store := newFakeAccountStore()
	store.addAccount(&domain.Account{Email: "a@example.com"})
	svc := NewAccountService(store, testLogger())

	valid := domain.AppleActivationParams{
		Email:                 "a@example.com",
		OriginalTransactionID: "1000000123",
		ProductID:             "premium.monthly",
		ExpirationDate:        time.Now().Add(time.Hour),
	}

	tests := []struct {
		name   string
		mutate func(*domain.AppleActivationParams)
	}{
		{"missing email", func(p *domain.AppleActivationParams) { p.Email = "" }},
		{"missing transaction id", func(p *domain.AppleActivationParams) { p.OriginalTransactionID = "" }},
		{"missing product id", func(p *domain.AppleActivationParams) { p.ProductID = "" }},
		{"missing expiration", func(p *domain.AppleActivationParams) { p.ExpirationDate = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := valid
			tt.mutate(&params)

			_, err := svc.ActivateAppleSubscription(context.Background(), params)
			if domain.ErrorCode(err) != domain.EINVALID {
				t.Errorf("expected EINVALID, got %v", err)
			}
		})
	}

	// None of the rejected activations may have touched the store.
	if store.replaceCalls != 0 {
		t.Errorf("invalid activations must not write, got %d writes", store.replaceCalls)
	}
}

func TestActivateApple_UnknownEmail(t *testing.T) {
	svc := NewAccountService(newFakeAccountStore(), testLogger())

	_, err := svc.ActivateAppleSubscription(context.Background(), domain.AppleActivationParams{
		Email:                 "ghost@example.com",
		OriginalTransactionID: "1000000123",
		ProductID:             "premium.monthly",
		ExpirationDate:        time.Now().Add(time.Hour),
	})
	if domain.ErrorCode(err) != domain.ENOTFOUND {
		t.Errorf("expected ENOTFOUND, got %v", err)
	}
}

func TestActivateApple_ReactivationReplaces(t *testing.T) {
	store := newFakeAccountStore()
	account := store.addAccount(&domain.Account{Email: "a@example.com"})
	svc := NewAccountService(store, testLogger())

	first := time.Now().Add(24 * time.Hour)
	second := first.Add(30 * 24 * time.Hour)

	for _, expiry := range []time.Time{first, second} {
		if _, err := svc.ActivateAppleSubscription(context.Background(), domain.AppleActivationParams{
			Email:                 "a@example.com",
			OriginalTransactionID: "1000000123",
			ProductID:             "premium.monthly",
			ExpirationDate:        expiry,
		}); err != nil {
			t.Fatalf("activation failed: %v", err)
		}
	}

	// Last write wins: the record holds the second expiration.
	if !account.AppleSubscription.ExpirationDate.Equal(second) {
		t.Errorf("expected replacement with %v, got %v", second, account.AppleSubscription.ExpirationDate)
	}
	if store.replaceCalls != 2 {
		t.Errorf("expected 2 full-replace writes, got %d", store.replaceCalls)
	}
}
