package services

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/treasurydesk/backend/internal/ledger"
	"github.com/treasurydesk/backend/internal/models"
	"github.com/treasurydesk/backend/internal/permissions"
)

// TransactionService exposes ledger movements over HTTP.
type TransactionService struct {
	engine    *ledger.Engine
	grouper   *ledger.Grouper
	oracle    permissions.Oracle
	validator *ValidationHelper
	listLimit int
}

func NewTransactionService(engine *ledger.Engine, grouper *ledger.Grouper, oracle permissions.Oracle, listLimit int) *TransactionService {
	return &TransactionService{
		engine:    engine,
		grouper:   grouper,
		oracle:    oracle,
		validator: NewValidationHelper(),
		listLimit: listLimit,
	}
}

type depositRequest struct {
	AccountID       uuid.UUID       `json:"account_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	Description     string          `json:"description" validate:"max=500"`
	TransactionDate *time.Time      `json:"transaction_date"`
	OperationID     *uuid.UUID      `json:"operation_id"`
}

func txnDate(t *time.Time) time.Time {
	if t != nil {
		return *t
	}
	return time.Now().UTC()
}

// Deposit credits an account
// @Summary Record a deposit
// @Tags transactions
// @Router /transactions/deposit [post]
func (s *TransactionService) Deposit(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}

	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := s.engine.Deposit(r.Context(), req.AccountID, req.Amount, req.Description, txnDate(req.TransactionDate), req.OperationID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

type withdrawalRequest struct {
	AccountID       uuid.UUID       `json:"account_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	Description     string          `json:"description" validate:"max=500"`
	TransactionDate *time.Time      `json:"transaction_date"`
	OperationID     *uuid.UUID      `json:"operation_id"`
}

// Withdrawal debits an account.
func (s *TransactionService) Withdrawal(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}

	var req withdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := s.engine.Withdrawal(r.Context(), req.AccountID, req.Amount, req.Description, txnDate(req.TransactionDate), req.OperationID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

type transferRequest struct {
	FromAccountID   uuid.UUID       `json:"from_account_id" validate:"required"`
	ToAccountID     uuid.UUID       `json:"to_account_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	Description     string          `json:"description" validate:"max=500"`
	TransactionDate *time.Time      `json:"transaction_date"`
	OperationID     *uuid.UUID      `json:"operation_id"`
}

// Transfer moves funds between two accounts atomically
// @Summary Transfer between accounts
// @Tags transactions
// @Router /transactions/transfer [post]
func (s *TransactionService) Transfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	allowed, err := s.oracle.CanTransfer(r.Context(), actor, req.FromAccountID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	if !allowed {
		SendLedgerError(w, ledger.Errf(ledger.KindPermissionDenied, "no transfer permission on account %s", req.FromAccountID))
		return
	}

	txn, err := s.engine.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount, req.Description, txnDate(req.TransactionDate), req.OperationID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

type settlementRequest struct {
	ConfirmingAccountID uuid.UUID       `json:"confirming_account_id" validate:"required"`
	ChargeAccountID     uuid.UUID       `json:"charge_account_id" validate:"required"`
	Amount              decimal.Decimal `json:"amount" validate:"required"`
	Description         string          `json:"description" validate:"max=500"`
	TransactionDate     *time.Time      `json:"transaction_date"`
	OperationID         *uuid.UUID      `json:"operation_id"`
}

// ConfirmingSettlement repays drawn confirming credit from a current
// account.
func (s *TransactionService) ConfirmingSettlement(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req settlementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	allowed, err := s.oracle.CanTransfer(r.Context(), actor, req.ChargeAccountID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	if !allowed {
		SendLedgerError(w, ledger.Errf(ledger.KindPermissionDenied, "no transfer permission on account %s", req.ChargeAccountID))
		return
	}

	txn, err := s.engine.ConfirmingSettlement(r.Context(), req.ConfirmingAccountID, req.ChargeAccountID, req.Amount, req.Description, txnDate(req.TransactionDate), req.OperationID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// ListTransactions returns transactions, filterable by account or
// operation, newest first.
func (s *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	filter := ledger.TransactionFilter{Limit: s.listLimit}
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid account_id", http.StatusBadRequest, nil)
			return
		}
		allowed, err := s.oracle.CanView(r.Context(), actor, id)
		if err != nil {
			SendLedgerError(w, err)
			return
		}
		if !allowed {
			SendLedgerError(w, ledger.Errf(ledger.KindPermissionDenied, "no view permission on account %s", id))
			return
		}
		filter.AccountID = &id
	}
	if raw := r.URL.Query().Get("operation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid operation_id", http.StatusBadRequest, nil)
			return
		}
		filter.OperationID = &id
	}

	txns, err := s.engine.Store().Transactions(r.Context(), filter)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	txns, err = s.visibleTransactions(r.Context(), actor, txns)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	if txns == nil {
		txns = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// visibleTransactions filters txns down to those touching at least one
// account the actor holds a view grant on. Supervisors see everything.
func (s *TransactionService) visibleTransactions(ctx context.Context, actor models.Actor, txns []*models.Transaction) ([]*models.Transaction, error) {
	if actor.IsSupervisor() {
		return txns, nil
	}
	allowed := make(map[uuid.UUID]bool)
	visible := make([]*models.Transaction, 0, len(txns))
	for _, txn := range txns {
		for _, accountID := range txn.Accounts() {
			ok, checked := allowed[accountID]
			if !checked {
				var err error
				ok, err = s.oracle.CanView(ctx, actor, accountID)
				if err != nil {
					return nil, err
				}
				allowed[accountID] = ok
			}
			if ok {
				visible = append(visible, txn)
				break
			}
		}
	}
	return visible, nil
}

// GetTransaction returns a single transaction the caller may view,
// meaning a view grant on either endpoint account.
func (s *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, r, "transactionId")
	if !ok {
		return
	}

	txn, err := s.engine.Store().Transaction(r.Context(), id)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	if !actor.IsSupervisor() {
		allowed := false
		for _, accountID := range txn.Accounts() {
			ok, err := s.oracle.CanView(r.Context(), actor, accountID)
			if err != nil {
				SendLedgerError(w, err)
				return
			}
			if ok {
				allowed = true
				break
			}
		}
		if !allowed {
			SendLedgerError(w, ledger.Errf(ledger.KindPermissionDenied, "no view permission on transaction %s", id))
			return
		}
	}
	writeJSON(w, http.StatusOK, txn)
}

// CanEditTransaction reports whether the last-movement rule still
// permits editing a transaction. Used by clients to gate edit buttons.
func (s *TransactionService) CanEditTransaction(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "transactionId")
	if !ok {
		return
	}

	editable, err := s.engine.CanEdit(r.Context(), id)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"can_edit": editable})
}

type editTransactionRequest struct {
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	Description     string          `json:"description" validate:"max=500"`
	TransactionDate *time.Time      `json:"transaction_date"`
}

// EditTransaction rewrites the latest movement on its accounts.
func (s *TransactionService) EditTransaction(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "transactionId")
	if !ok {
		return
	}

	var req editTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := s.engine.Edit(r.Context(), id, req.Amount, req.Description, txnDate(req.TransactionDate))
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// DeleteTransaction reverses and removes the latest movement on its
// accounts.
func (s *TransactionService) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "transactionId")
	if !ok {
		return
	}

	if err := s.engine.Delete(r.Context(), id); err != nil {
		SendLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignOperationRequest struct {
	OperationID *uuid.UUID `json:"operation_id"`
}

// AssignOperation attaches a transaction to an open operation, or
// detaches it when operation_id is null.
func (s *TransactionService) AssignOperation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "transactionId")
	if !ok {
		return
	}

	var req assignOperationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.grouper.Assign(r.Context(), id, req.OperationID); err != nil {
		SendLedgerError(w, err)
		return
	}

	txn, err := s.engine.Store().Transaction(r.Context(), id)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
