package service

import (
	"context"
	"errors"
	"testing"

	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/google/uuid"
)

func TestStudentCreate_EntitledHasNoCap(t *testing.T) {
	store := newFakeStudentStore()
	account := &domain.Account{ID: uuid.New(), Email: "a@example.com"}
	store.seed(account.ID, 10)
	svc := NewStudentService(store, fixedEntitlement{entitled: true}, testLogger())

	student, err := svc.Create(context.Background(), account, domain.StudentCreateParams{Name: "New"})
	if err != nil {
		t.Fatalf("entitled account should not be capped: %v", err)
	}
	if student.Name != "New" {
		t.Errorf("expected created student, got %+v", student)
	}
}

func TestStudentCreate_FreeTierUnderLimit(t *testing.T) {
	store := newFakeStudentStore()
	account := &domain.Account{ID: uuid.New(), Email: "a@example.com"}
	store.seed(account.ID, domain.FreeTierStudentLimit-1)
	svc := NewStudentService(store, fixedEntitlement{entitled: false}, testLogger())

	if _, err := svc.Create(context.Background(), account, domain.StudentCreateParams{Name: "New"}); err != nil {
		t.Fatalf("free account under the cap should create: %v", err)
	}
}

func TestStudentCreate_FreeTierAtLimit(t *testing.T) {
	store := newFakeStudentStore()
	account := &domain.Account{ID: uuid.New(), Email: "a@example.com"}
	store.seed(account.ID, domain.FreeTierStudentLimit)
	svc := NewStudentService(store, fixedEntitlement{entitled: false}, testLogger())

	_, err := svc.Create(context.Background(), account, domain.StudentCreateParams{Name: "New"})
	if domain.ErrorCode(err) != domain.EPAYMENT {
		t.Errorf("expected EPAYMENT at the free-tier cap, got %v", err)
	}
}

func TestStudentCreate_ResolverErrorBlocksCreate(t *testing.T) {
	store := newFakeStudentStore()
	account := &domain.Account{ID: uuid.New(), Email: "a@example.com"}
	resolverErr := domain.Upstream(errors.New("down"), "entitlement.resolve", "all entitlement sources failed")
	svc := NewStudentService(store, fixedEntitlement{err: resolverErr}, testLogger())

	_, err := svc.Create(context.Background(), account, domain.StudentCreateParams{Name: "New"})
	if domain.ErrorCode(err) != domain.EUPSTREAM {
		t.Errorf("expected resolver error to surface, got %v", err)
	}
}

func TestStudentCreate_NameRequired(t *testing.T) {
	store := newFakeStudentStore()
	svc := NewStudentService(store, fixedEntitlement{entitled: true}, testLogger())

	_, err := svc.Create(context.Background(), &domain.Account{ID: uuid.New()}, domain.StudentCreateParams{})
	if domain.ErrorCode(err) != domain.EINVALID {
		t.Errorf("expected EINVALID for empty name, got %v", err)
	}
}

func TestDowngrade_SelectionSizeMustMatchLimit(t *testing.T) {
	tests := []struct {
		name     string
		keepSize int
	}{
		{"empty selection", 0},
		{"one kept", 1},
		{"two kept", 2},
		{"four kept", 4},
		{"five kept", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStudentStore()
			account := &domain.Account{ID: uuid.New(), Email: "a@example.com"}
			ids := store.seed(account.ID, 6)
			svc := NewStudentService(store, fixedEntitlement{entitled: false}, testLogger())

			_, err := svc.DowngradeSelection(context.Background(), account, ids[:tt.keepSize])
			if domain.ErrorCode(err) != domain.EINVALID {
				t.Errorf("expected EINVALID for %d kept, got %v", tt.keepSize, err)
			}
			if n, _ := store.CountStudentsByAccount(context.Background(), account.ID); n != 6 {
				t.Errorf("rejected selection must not delete anything, %d students remain", n)
			}
		})
	}
}

func TestDowngrade_DeletesExactlyUnselected(t *testing.T) {
	store := newFakeStudentStore()
	account := &domain.Account{ID: uuid.New(), Email: "a@example.com"}
	ids := store.seed(account.ID, 5)
	svc := NewStudentService(store, fixedEntitlement{entitled: false}, testLogger())

	keep := ids[:domain.FreeTierStudentLimit]
	result, err := svc.DowngradeSelection(context.Background(), account, keep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.DeletedIDs) != 2 {
		t.Errorf("expected 2 deletions, got %d", len(result.DeletedIDs))
	}
	if len(result.FailedIDs) != 0 {
		t.Errorf("expected no failures, got %d", len(result.FailedIDs))
	}

	remaining, _ := store.ListStudentsByAccount(context.Background(), account.ID)
	if len(remaining) != domain.FreeTierStudentLimit {
		t.Fatalf("expected %d students remaining, got %d", domain.FreeTierStudentLimit, len(remaining))
	}
	kept := map[uuid.UUID]bool{}
	for _, id := range keep {
		kept[id] = true
	}
	for _, st := range remaining {
		if !kept[st.ID] {
			t.Errorf("student %s survived but was not selected", st.ID)
		}
	}
}

func TestDowngrade_PartialFailureReported(t *testing.T) {
	store := newFakeStudentStore()
	account := &domain.Account{ID: uuid.New(), Email: "a@example.com"}
	ids := store.seed(account.ID, 5)
	store.deleteErrs[ids[4]] = errors.New("row locked")
	svc := NewStudentService(store, fixedEntitlement{entitled: false}, testLogger())

	result, err := svc.DowngradeSelection(context.Background(), account, ids[:domain.FreeTierStudentLimit])
	if err != nil {
		t.Fatalf("partial failure is reported in the result, not as an error: %v", err)
	}
	if len(result.DeletedIDs) != 1 {
		t.Errorf("expected 1 deleted, got %d", len(result.DeletedIDs))
	}
	if len(result.FailedIDs) != 1 || result.FailedIDs[0] != ids[4] {
		t.Errorf("expected failure for %s, got %v", ids[4], result.FailedIDs)
	}
	// The failed student stays on the account; no rollback of the others.
	remaining, _ := store.ListStudentsByAccount(context.Background(), account.ID)
	if len(remaining) != domain.FreeTierStudentLimit+1 {
		t.Errorf("expected %d students remaining, got %d", domain.FreeTierStudentLimit+1, len(remaining))
	}
}

func TestDowngrade_EntitledAccountRejected(t *testing.T) {
	store := newFakeStudentStore()
	account := &domain.Account{ID: uuid.New(), Email: "a@example.com"}
	ids := store.seed(account.ID, 5)
	svc := NewStudentService(store, fixedEntitlement{entitled: true}, testLogger())

	_, err := svc.DowngradeSelection(context.Background(), account, ids[:domain.FreeTierStudentLimit])
	if domain.ErrorCode(err) != domain.EFORBIDDEN {
		t.Errorf("entitled account must not be downgraded, got %v", err)
	}
	if n, _ := store.CountStudentsByAccount(context.Background(), account.ID); n != 5 {
		t.Errorf("nothing may be deleted for an entitled account, %d students remain", n)
	}
}

func TestDowngrade_WithinLimitRejected(t *testing.T) {
	store := newFakeStudentStore()
	account := &domain.Account{ID: uuid.New(), Email: "a@example.com"}
	ids := store.seed(account.ID, domain.FreeTierStudentLimit)
	svc := NewStudentService(store, fixedEntitlement{entitled: false}, testLogger())

	_, err := svc.DowngradeSelection(context.Background(), account, ids)
	if domain.ErrorCode(err) != domain.EINVALID {
		t.Errorf("account within the limit has nothing to downgrade, got %v", err)
	}
}

func TestDowngrade_UnknownStudentRejected(t *testing.T) {
	store := newFakeStudentStore()
	account := &domain.Account{ID: uuid.New(), Email: "a@example.com"}
	ids := store.seed(account.ID, 5)
	svc := NewStudentService(store, fixedEntitlement{entitled: false}, testLogger())

	keep := []uuid.UUID{ids[0], ids[1], uuid.New()}
	_, err := svc.DowngradeSelection(context.Background(), account, keep)
	if domain.ErrorCode(err) != domain.EINVALID {
		t.Errorf("selection with a foreign student must be rejected, got %v", err)
	}
	if n, _ := store.CountStudentsByAccount(context.Background(), account.ID); n != 5 {
		t.Errorf("rejected selection must not delete anything, %d students remain", n)
	}
}

func TestDowngrade_DuplicateSelectionRejected(t *testing.T) {
	store := newFakeStudentStore()
	account := &domain.Account{ID: uuid.New(), Email: "a@example.com"}
	ids := store.seed(account.ID, 5)
	svc := NewStudentService(store, fixedEntitlement{entitled: false}, testLogger())

	keep := []uuid.UUID{ids[0], ids[1], ids[1]}
	_, err := svc.DowngradeSelection(context.Background(), account, keep)
	if domain.ErrorCode(err) != domain.EINVALID {
		t.Errorf("duplicate selection must be rejected, got %v", err)
	}
}
