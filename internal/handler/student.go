// Package handler contains the JSON HTTP handlers for the caseload API.
//
// This file implements the student record endpoints, including the
// forced-downgrade flow.
//
// Routes handled:
//   - GET  /students           -> List
//   - POST /students           -> Create
//   - POST /students/downgrade -> Downgrade
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/caseload/internal/auth"
	"github.com/DukeRupert/caseload/internal/domain"
	"github.com/DukeRupert/caseload/internal/service"
	"github.com/google/uuid"
)

// StudentHandler handles student record HTTP requests.
type StudentHandler struct {
	students service.StudentService
	logger   *slog.Logger
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(students service.StudentService, logger *slog.Logger) *StudentHandler {
	return &StudentHandler{
		students: students,
		logger:   logger,
	}
}

// RegisterRoutes registers student routes on the provided mux.
func (h *StudentHandler) RegisterRoutes(mux *http.ServeMux, requireAccount func(http.Handler) http.Handler) {
	mux.Handle("GET /students", requireAccount(http.HandlerFunc(h.List)))
	mux.Handle("POST /students", requireAccount(http.HandlerFunc(h.Create)))
	mux.Handle("POST /students/downgrade", requireAccount(http.HandlerFunc(h.Downgrade)))
}

// studentView is the JSON shape of a student record.
type studentView struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Grade     string    `json:"grade,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toStudentView(st domain.Student) studentView {
	return studentView{
		ID:        st.ID,
		Name:      st.Name,
		Grade:     st.Grade,
		Notes:     st.Notes,
		CreatedAt: st.CreatedAt,
	}
}

// List returns all students owned by the caller.
func (h *StudentHandler) List(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromRequest(r)
	if account == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	students, err := h.students.List(r.Context(), account)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	views := make([]studentView, 0, len(students))
	for _, st := range students {
		views = append(views, toStudentView(st))
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"students":  views,
		"freeLimit": domain.FreeTierStudentLimit,
	})
}

type studentCreateRequest struct {
	Name  string `json:"name"`
	Grade string `json:"grade"`
	Notes string `json:"notes"`
}

// Create adds a student record. Unentitled accounts at the free-tier cap
// get a 402.
func (h *StudentHandler) Create(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromRequest(r)
	if account == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	var req studentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	student, err := h.students.Create(r.Context(), account, domain.StudentCreateParams{
		Name:  req.Name,
		Grade: req.Grade,
		Notes: req.Notes,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, toStudentView(*student))
}

type downgradeRequest struct {
	KeepIDs []uuid.UUID `json:"keepIds"`

	// Acknowledge must be true: deletion is irreversible and the client
	// has to say so explicitly, not just submit a selection.
	Acknowledge bool `json:"acknowledge"`
}

// Downgrade applies the forced-downgrade selection: exactly the free-tier
// limit of students is kept and every other record is permanently deleted.
// Students that fail to delete are reported back, not retried.
func (h *StudentHandler) Downgrade(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromRequest(r)
	if account == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	var req downgradeRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if !req.Acknowledge {
		ErrorResponse(w, r, h.logger, domain.Invalid("student.downgrade",
			"Deletion is permanent; acknowledge must be true"))
		return
	}

	result, err := h.students.DowngradeSelection(r.Context(), account, req.KeepIDs)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"kept":    result.KeptIDs,
		"deleted": result.DeletedIDs,
		"failed":  result.FailedIDs,
	})
}
