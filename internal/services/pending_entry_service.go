package services

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/treasurydesk/backend/internal/ledger"
	"github.com/treasurydesk/backend/internal/models"
)

// PendingEntryService exposes inter-group debt tracking over HTTP.
type PendingEntryService struct {
	pending   *ledger.PendingLedger
	validator *ValidationHelper
}

func NewPendingEntryService(pending *ledger.PendingLedger) *PendingEntryService {
	return &PendingEntryService{
		pending:   pending,
		validator: NewValidationHelper(),
	}
}

type createPendingEntryRequest struct {
	FromGroupID uuid.UUID       `json:"from_group_id" validate:"required"`
	ToGroupID   uuid.UUID       `json:"to_group_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Description string          `json:"description" validate:"max=500"`
	OperationID *uuid.UUID      `json:"operation_id"`
}

// CreatePendingEntry records a debt the from group owes the to group
// @Summary Record an inter-group debt
// @Tags pending-entries
// @Router /pending-entries [post]
func (s *PendingEntryService) CreatePendingEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}

	var req createPendingEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entry, err := s.pending.Create(r.Context(), req.FromGroupID, req.ToGroupID, req.Amount, req.Description, req.OperationID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ListPendingEntries returns entries filterable by status, group or
// operation.
func (s *PendingEntryService) ListPendingEntries(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	filter := ledger.PendingEntryFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.PendingEntryStatus(raw)
		if !status.Valid() {
			SendErrorResponse(w, "Invalid status", http.StatusBadRequest, nil)
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("group_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid group_id", http.StatusBadRequest, nil)
			return
		}
		filter.GroupID = &id
	}
	if raw := r.URL.Query().Get("operation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid operation_id", http.StatusBadRequest, nil)
			return
		}
		filter.OperationID = &id
	}

	entries, err := s.pending.List(r.Context(), filter)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.PendingEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetPendingEntry returns a single entry.
func (s *PendingEntryService) GetPendingEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "entryId")
	if !ok {
		return
	}

	entry, err := s.pending.Get(r.Context(), id)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type settlePendingEntryRequest struct {
	OperationID *uuid.UUID `json:"operation_id"`
}

// SettlePendingEntry marks a debt as settled, optionally recording the
// operation it was settled in.
func (s *PendingEntryService) SettlePendingEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "entryId")
	if !ok {
		return
	}

	var req settlePendingEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := s.pending.Settle(r.Context(), id, req.OperationID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// UnsettlePendingEntry reverts a settled debt back to pending.
func (s *PendingEntryService) UnsettlePendingEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "entryId")
	if !ok {
		return
	}

	entry, err := s.pending.Unsettle(r.Context(), id)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// DeletePendingEntry removes an entry outright.
func (s *PendingEntryService) DeletePendingEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "entryId")
	if !ok {
		return
	}

	if err := s.pending.Delete(r.Context(), id); err != nil {
		SendLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PendingSummary nets outstanding debts per group.
func (s *PendingEntryService) PendingSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	summary, err := s.pending.SummaryByGroup(r.Context())
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	if summary == nil {
		summary = []ledger.GroupSummary{}
	}
	writeJSON(w, http.StatusOK, summary)
}
