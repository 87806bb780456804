package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/treasurydesk/backend/internal/models"
)

// AccountSpec is the input for creating an account. For credit and
// confirming accounts InitialAvailable, when set, fixes the starting
// undrawn capacity; otherwise the full limit is available. For current
// accounts InitialBalance is the opening balance.
type AccountSpec struct {
	CompanyID        uuid.UUID
	Name             string
	IBAN             string
	AccountType      models.AccountType
	Currency         string
	CreditLimit      decimal.Decimal
	InitialBalance   decimal.Decimal
	InitialAvailable *decimal.Decimal
}

// AccountPatch is an admin edit. Nil fields are left unchanged.
// Available only applies to credit and confirming accounts, where it
// recomputes the stored drawn balance.
type AccountPatch struct {
	Name        *string
	IBAN        *string
	CreditLimit *decimal.Decimal
	Available   *decimal.Decimal
}

// Accounts owns account lifecycle. Mutations go through the engine's
// lock registry so admin edits serialize with in-flight transactions
// on the same account.
type Accounts struct {
	engine *Engine
}

// NewAccounts wraps the engine's store and locks.
func NewAccounts(engine *Engine) *Accounts {
	return &Accounts{engine: engine}
}

// Create validates the spec and computes the initial balance per
// account type.
func (s *Accounts) Create(ctx context.Context, spec AccountSpec) (*models.Account, error) {
	if !spec.AccountType.Valid() {
		return nil, Errf(KindValidation, "unsupported account type %q", spec.AccountType)
	}
	if spec.Name == "" {
		return nil, Errf(KindValidation, "account name is required")
	}
	if spec.CreditLimit.IsNegative() {
		return nil, Errf(KindValidation, "credit limit cannot be negative")
	}

	account := &models.Account{
		ID:          uuid.New(),
		CompanyID:   spec.CompanyID,
		Name:        spec.Name,
		IBAN:        spec.IBAN,
		AccountType: spec.AccountType,
		Currency:    spec.Currency,
	}
	if account.Currency == "" {
		account.Currency = "EUR"
	}

	if spec.AccountType.IsCreditLine() {
		account.CreditLimit = spec.CreditLimit
		if spec.InitialAvailable != nil {
			avail := *spec.InitialAvailable
			if avail.IsNegative() || avail.GreaterThan(spec.CreditLimit) {
				return nil, Errf(KindValidation,
					"initial available %s must be between 0 and the credit limit %s", avail, spec.CreditLimit)
			}
			// Stored balance is the drawn amount: available - limit, <= 0.
			account.Balance = avail.Sub(spec.CreditLimit)
		}
	} else {
		if !spec.CreditLimit.IsZero() {
			return nil, Errf(KindValidation, "current accounts cannot carry a credit limit")
		}
		account.Balance = spec.InitialBalance
	}

	if err := s.engine.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Get returns the account by id.
func (s *Accounts) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.engine.store.Account(ctx, id)
}

// List returns accounts matching the filter.
func (s *Accounts) List(ctx context.Context, f AccountFilter) ([]*models.Account, error) {
	return s.engine.store.Accounts(ctx, f)
}

// Update applies an admin patch under the account's lock.
func (s *Accounts) Update(ctx context.Context, id uuid.UUID, patch AccountPatch) (*models.Account, error) {
	var updated *models.Account
	err := s.engine.withAccounts(ctx, []uuid.UUID{id}, func(ctx context.Context) error {
		account, err := s.engine.store.Account(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			account.Name = *patch.Name
		}
		if patch.IBAN != nil {
			account.IBAN = *patch.IBAN
		}
		if patch.CreditLimit != nil && account.AccountType.IsCreditLine() {
			if patch.CreditLimit.IsNegative() {
				return Errf(KindValidation, "credit limit cannot be negative")
			}
			if patch.CreditLimit.Add(account.Balance).IsNegative() {
				return Errf(KindConflict,
					"new credit limit %s is below the drawn amount %s", patch.CreditLimit, account.Balance.Neg())
			}
			account.CreditLimit = *patch.CreditLimit
		}
		if patch.Available != nil && account.AccountType.IsCreditLine() {
			avail := *patch.Available
			if avail.IsNegative() || avail.GreaterThan(account.CreditLimit) {
				return Errf(KindValidation,
					"available %s must be between 0 and the credit limit %s", avail, account.CreditLimit)
			}
			account.Balance = avail.Sub(account.CreditLimit)
		}
		updated = account
		return s.engine.store.SaveAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes an account. Only zero-balance accounts may go; a
// nonzero balance means the books would stop adding up.
func (s *Accounts) Delete(ctx context.Context, id uuid.UUID) error {
	return s.engine.withAccounts(ctx, []uuid.UUID{id}, func(ctx context.Context) error {
		account, err := s.engine.store.Account(ctx, id)
		if err != nil {
			return err
		}
		if !account.Balance.IsZero() {
			return Errf(KindConflict,
				"account %s has balance %s, only zero-balance accounts can be deleted", id, account.Balance)
		}
		return s.engine.store.DeleteAccount(ctx, id)
	})
}

// AdjustTo delegates to the engine so every balance change leaves an
// adjustment transaction behind.
func (s *Accounts) AdjustTo(ctx context.Context, id uuid.UUID, target decimal.Decimal, description string) (*models.Transaction, error) {
	return s.engine.AdjustTo(ctx, id, target, description)
}
