package services

import (
	"net/http"

	"github.com/treasurydesk/backend/internal/ledger"
	"github.com/treasurydesk/backend/internal/models"
)

// OperationService exposes operation grouping and aggregation over
// HTTP.
type OperationService struct {
	grouper   *ledger.Grouper
	validator *ValidationHelper
}

func NewOperationService(grouper *ledger.Grouper) *OperationService {
	return &OperationService{
		grouper:   grouper,
		validator: NewValidationHelper(),
	}
}

type createOperationRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
	Notes       string `json:"notes" validate:"max=2000"`
}

// CreateOperation opens a new operation
// @Summary Create an operation
// @Tags operations
// @Router /operations [post]
func (s *OperationService) CreateOperation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}

	var req createOperationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	op, err := s.grouper.Create(r.Context(), req.Name, req.Description, req.Notes)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

// ListOperations returns operations, optionally filtered by status.
func (s *OperationService) ListOperations(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	filter := ledger.OperationFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.OperationStatus(raw)
		if !status.Valid() {
			SendErrorResponse(w, "Invalid status", http.StatusBadRequest, nil)
			return
		}
		filter.Status = &status
	}

	ops, err := s.grouper.List(r.Context(), filter)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	if ops == nil {
		ops = []*models.Operation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

// GetOperation returns a single operation.
func (s *OperationService) GetOperation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "operationId")
	if !ok {
		return
	}

	op, err := s.grouper.Get(r.Context(), id)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

type patchOperationRequest struct {
	Name        *string                 `json:"name" validate:"omitempty,max=255"`
	Description *string                 `json:"description" validate:"omitempty,max=2000"`
	Notes       *string                 `json:"notes" validate:"omitempty,max=2000"`
	Status      *models.OperationStatus `json:"status"`
}

// PatchOperation edits an operation's metadata or moves it through its
// lifecycle. Cancelling detaches the operation's transactions.
func (s *OperationService) PatchOperation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "operationId")
	if !ok {
		return
	}

	var req patchOperationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	op, err := s.grouper.Update(r.Context(), id, ledger.OperationPatch{
		Name:        req.Name,
		Description: req.Description,
		Notes:       req.Notes,
		Status:      req.Status,
	})
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// DeleteOperation removes an operation after detaching its
// transactions.
func (s *OperationService) DeleteOperation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "operationId")
	if !ok {
		return
	}

	if err := s.grouper.Delete(r.Context(), id); err != nil {
		SendLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OperationFlow aggregates an operation's transactions into account,
// company and group level flows
// @Summary Aggregate an operation's money flow
// @Tags operations
// @Router /operations/{operationId}/flow [get]
func (s *OperationService) OperationFlow(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "operationId")
	if !ok {
		return
	}

	flow, err := s.grouper.Flow(r.Context(), id)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// Dashboard returns the operations overview: open operations with
// transaction counts, recent operations, and counts by status.
func (s *OperationService) Dashboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	summary, err := s.grouper.Dashboard(r.Context())
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GroupsBalance returns the dashboard view of per-group positions
// across completed operations and pending entries.
func (s *OperationService) GroupsBalance(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	balances, err := s.grouper.GroupsBalance(r.Context())
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	if balances == nil {
		balances = []ledger.GroupBalance{}
	}
	writeJSON(w, http.StatusOK, balances)
}
