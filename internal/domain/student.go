// Package domain contains core business types and interfaces.
//
// This file defines the Student record type and the free-tier cap that
// bounds how many students an unentitled account may hold.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// FreeTierStudentLimit is the maximum number of student records an account
// may hold without an entitling subscription.
const FreeTierStudentLimit = 3

// Student is a student record owned by an account. It is the capped entity
// of the freemium model: unentitled accounts are limited to
// FreeTierStudentLimit records.
type Student struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Name      string
	Grade     string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StudentCreateParams contains the parameters for creating a student record.
type StudentCreateParams struct {
	Name  string
	Grade string
	Notes string
}

// DowngradeResult reports the outcome of a forced-downgrade deletion.
// Deletions run in parallel with no rollback: FailedIDs lists students that
// could not be deleted and remain on the account alongside the kept set.
type DowngradeResult struct {
	KeptIDs    []uuid.UUID
	DeletedIDs []uuid.UUID
	FailedIDs  []uuid.UUID
}
