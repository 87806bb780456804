package services

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/treasurydesk/backend/internal/ledger"
	"github.com/treasurydesk/backend/internal/middleware"
	"github.com/treasurydesk/backend/internal/models"
	"github.com/treasurydesk/backend/internal/permissions"
)

// AccountService exposes account lifecycle over HTTP.
type AccountService struct {
	accounts  *ledger.Accounts
	oracle    permissions.Oracle
	validator *ValidationHelper
}

func NewAccountService(accounts *ledger.Accounts, oracle permissions.Oracle) *AccountService {
	return &AccountService{
		accounts:  accounts,
		oracle:    oracle,
		validator: NewValidationHelper(),
	}
}

// decodeJSON reads a single JSON object into dst with the usual
// request hardening.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// requireActor pulls the authenticated actor off the context.
func requireActor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Authentication required", http.StatusUnauthorized, nil)
		return models.Actor{}, false
	}
	return actor, true
}

// requireSupervisor additionally rejects non-supervisor actors.
func requireSupervisor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return actor, false
	}
	if !actor.IsSupervisor() {
		SendLedgerError(w, ledger.Errf(ledger.KindPermissionDenied, "supervisor role required"))
		return actor, false
	}
	return actor, true
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		SendErrorResponse(w, "Invalid id", http.StatusBadRequest, nil)
		return uuid.Nil, false
	}
	return id, true
}

type createAccountRequest struct {
	CompanyID        uuid.UUID          `json:"company_id" validate:"required"`
	Name             string             `json:"name" validate:"required,max=255"`
	IBAN             string             `json:"iban" validate:"max=34"`
	AccountType      models.AccountType `json:"account_type" validate:"required"`
	Currency         string             `json:"currency" validate:"omitempty,len=3"`
	CreditLimit      decimal.Decimal    `json:"credit_limit"`
	InitialBalance   decimal.Decimal    `json:"initial_balance"`
	InitialAvailable *decimal.Decimal   `json:"initial_available"`
}

// CreateAccount provisions an account for a company
// @Summary Create a new account
// @Tags accounts
// @Router /accounts [post]
func (s *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}

	var req createAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := s.accounts.Create(r.Context(), ledger.AccountSpec{
		CompanyID:        req.CompanyID,
		Name:             req.Name,
		IBAN:             req.IBAN,
		AccountType:      req.AccountType,
		Currency:         req.Currency,
		CreditLimit:      req.CreditLimit,
		InitialBalance:   req.InitialBalance,
		InitialAvailable: req.InitialAvailable,
	})
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(accountView(account))
}

// accountView augments an account with its derived available figure.
func accountView(a *models.Account) map[string]any {
	return map[string]any{
		"id":           a.ID,
		"company_id":   a.CompanyID,
		"name":         a.Name,
		"iban":         a.IBAN,
		"account_type": a.AccountType,
		"currency":     a.Currency,
		"balance":      a.Balance,
		"credit_limit": a.CreditLimit,
		"available":    a.Available(),
		"created_at":   a.CreatedAt,
		"updated_at":   a.UpdatedAt,
	}
}

// ListAccounts returns the accounts visible to the caller, optionally
// filtered by company.
func (s *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	filter := ledger.AccountFilter{}
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		companyID, err := uuid.Parse(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid company_id", http.StatusBadRequest, nil)
			return
		}
		filter.CompanyID = &companyID
	}

	accounts, err := s.accounts.List(r.Context(), filter)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(accounts))
	for _, a := range accounts {
		allowed, err := s.oracle.CanView(r.Context(), actor, a.ID)
		if err != nil {
			SendLedgerError(w, err)
			return
		}
		if allowed {
			views = append(views, accountView(a))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// GetAccount returns one account the caller may view.
func (s *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := parseIDParam(w, r, "accountId")
	if !ok {
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

	account, err := s.accounts.Get(r.Context(), id)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accountView(account))
}

type patchAccountRequest struct {
	Name        *string          `json:"name" validate:"omitempty,max=255"`
	IBAN        *string          `json:"iban" validate:"omitempty,max=34"`
	CreditLimit *decimal.Decimal `json:"credit_limit"`
	Available   *decimal.Decimal `json:"available"`
}

// PatchAccount applies admin edits to an account.
func (s *AccountService) PatchAccount(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "accountId")
	if !ok {
		return
	}

	var req patchAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := s.accounts.Update(r.Context(), id, ledger.AccountPatch{
		Name:        req.Name,
		IBAN:        req.IBAN,
		CreditLimit: req.CreditLimit,
		Available:   req.Available,
	})
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accountView(account))
}

// DeleteAccount removes a zero-balance account.
func (s *AccountService) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "accountId")
	if !ok {
		return
	}

	if err := s.accounts.Delete(r.Context(), id); err != nil {
		SendLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adjustBalanceRequest struct {
	TargetBalance decimal.Decimal `json:"target_balance"`
	Description   string          `json:"description" validate:"max=500"`
}

// AdjustBalance moves an account to a target balance through an
// adjustment transaction
// @Summary Adjust an account balance
// @Tags accounts
// @Router /accounts/{accountId}/adjust-balance [post]
func (s *AccountService) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSupervisor(w, r); !ok {
		return
	}
	id, ok := parseIDParam(w, r, "accountId")
	if !ok {
		return
	}

	var req adjustBalanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	description := req.Description
	if description == "" {
		description = "Balance adjustment"
	}

	txn, err := s.accounts.AdjustTo(r.Context(), id, req.TargetBalance, description)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(txn)
}
