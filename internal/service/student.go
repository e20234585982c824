// Package service contains the business logic layer.
//
// This file implements the freemium cap on student records and the forced
// downgrade flow that runs when an account's entitlement has lapsed while
// it holds more students than the free tier allows.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/DukeRupert/caseload/internal/metrics"
	"github.com/DukeRupert/caseload/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// downgradeDeleteConcurrency bounds the parallel deletion fan-out.
const downgradeDeleteConcurrency = 4

// StudentStore defines the persistence operations the student service needs.
type StudentStore interface {
	CreateStudent(ctx context.Context, accountID uuid.UUID, params domain.StudentCreateParams) (*domain.Student, error)
	ListStudentsByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Student, error)
	CountStudentsByAccount(ctx context.Context, accountID uuid.UUID) (int, error)
	DeleteStudent(ctx context.Context, accountID, studentID uuid.UUID) error
}

// StudentService manages student records and enforces the free-tier cap.
type StudentService interface {
	// List returns all students owned by the account.
	List(ctx context.Context, account *domain.Account) ([]domain.Student, error)

	// Create adds a student record. When the account is not entitled and
	// already holds the free-tier limit, it returns domain.EPAYMENT.
	Create(ctx context.Context, account *domain.Account, params domain.StudentCreateParams) (*domain.Student, error)

	// DowngradeSelection executes the forced-downgrade deletion: keepIDs
	// must name exactly domain.FreeTierStudentLimit owned students, and
	// every other student is deleted. Deletions run in parallel with no
	// rollback; students that fail to delete are reported, not retried.
	DowngradeSelection(ctx context.Context, account *domain.Account, keepIDs []uuid.UUID) (*domain.DowngradeResult, error)
}

type studentService struct {
	store       StudentStore
	entitlement EntitlementService
	logger      *slog.Logger
}

// NewStudentService creates a new StudentService.
func NewStudentService(store StudentStore, entitlement EntitlementService, logger *slog.Logger) StudentService {
	return &studentService{
		store:       store,
		entitlement: entitlement,
		logger:      logger,
	}
}

func (s *studentService) List(ctx context.Context, account *domain.Account) ([]domain.Student, error) {
	const op = "student.list"

	students, err := s.store.ListStudentsByAccount(ctx, account.ID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list students")
	}
	return students, nil
}

func (s *studentService) Create(ctx context.Context, account *domain.Account, params domain.StudentCreateParams) (*domain.Student, error) {
	const op = "student.create"

	if params.Name == "" {
		return nil, domain.Invalid(op, "name is required")
	}

	entitled, err := s.entitlement.Resolve(ctx, account)
	if err != nil {
		return nil, err
	}

	if !entitled {
		count, err := s.store.CountStudentsByAccount(ctx, account.ID)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to count students")
		}
		if count >= domain.FreeTierStudentLimit {
			return nil, domain.PaymentRequired(op,
				fmt.Sprintf("Free accounts are limited to %d students. Upgrade to add more.", domain.FreeTierStudentLimit))
		}
	}

	student, err := s.store.CreateStudent(ctx, account.ID, params)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create student")
	}
	return student, nil
}

func (s *studentService) DowngradeSelection(ctx context.Context, account *domain.Account, keepIDs []uuid.UUID) (*domain.DowngradeResult, error) {
	const op = "student.downgrade"

	entitled, err := s.entitlement.Resolve(ctx, account)
	if err != nil {
		return nil, err
	}
	if entitled {
		return nil, domain.Forbidden(op, "Account is entitled; no downgrade is required")
	}

	students, err := s.store.ListStudentsByAccount(ctx, account.ID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list students")
	}
	if len(students) <= domain.FreeTierStudentLimit {
		return nil, domain.Invalid(op, "Account is within the free-tier limit; nothing to downgrade")
	}

	// The selection must be exactly the free-tier limit: not fewer, not
	// more. Duplicates and students owned by other accounts are rejected.
	keep := make(map[uuid.UUID]bool, len(keepIDs))
	for _, id := range keepIDs {
		if keep[id] {
			return nil, domain.Invalid(op, "Duplicate student in selection")
		}
		keep[id] = true
	}
	if len(keep) != domain.FreeTierStudentLimit {
		return nil, domain.Invalid(op,
			fmt.Sprintf("Exactly %d students must be selected to keep, got %d", domain.FreeTierStudentLimit, len(keep)))
	}

	owned := make(map[uuid.UUID]bool, len(students))
	for _, st := range students {
		owned[st.ID] = true
	}
	for id := range keep {
		if !owned[id] {
			return nil, domain.Invalid(op, "Selection contains an unknown student")
		}
	}

	var toDelete []uuid.UUID
	for _, st := range students {
		if !keep[st.ID] {
			toDelete = append(toDelete, st.ID)
		}
	}

	// Parallel, all-or-partial: each deletion stands alone. Failures leave
	// the student in place and are reported to the caller; there is no
	// transactional rollback and no automatic retry.
	var (
		mu      sync.Mutex
		deleted []uuid.UUID
		failed  []uuid.UUID
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downgradeDeleteConcurrency)
	for _, id := range toDelete {
		g.Go(func() error {
			err := s.store.DeleteStudent(gctx, account.ID, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil, errors.Is(err, repository.ErrNotFound):
				// Already-gone counts as deleted; the end state matches.
				deleted = append(deleted, id)
				metrics.DowngradeDeletionsTotal.WithLabelValues("deleted").Inc()
			default:
				s.logger.Error("downgrade deletion failed", "error", err, "student_id", id)
				failed = append(failed, id)
				metrics.DowngradeDeletionsTotal.WithLabelValues("failed").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &domain.DowngradeResult{
		KeptIDs:    keepIDs,
		DeletedIDs: deleted,
		FailedIDs:  failed,
	}

	s.logger.Info("downgrade selection applied",
		"account_id", account.ID,
		"kept", len(keepIDs),
		"deleted", len(deleted),
		"failed", len(failed),
	)
	return result, nil
}
