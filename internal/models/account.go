package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType classifies how an account's balance and available
// capacity relate to each other.
type AccountType string

const (
	// AccountCurrent is a plain cash account: available always equals balance.
	AccountCurrent AccountType = "current"
	// AccountCredit is a drawn-down credit line: balance is <= 0 and
	// available is the undrawn remainder of the limit.
	AccountCredit AccountType = "credit"
	// AccountConfirming is a supplier-payment facility; it behaves like a
	// credit line but is regenerated through settlements, and it never
	// receives transfers.
	AccountConfirming AccountType = "confirming"
)

// Valid reports whether t is one of the supported account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountCurrent, AccountCredit, AccountConfirming:
		return true
	}
	return false
}

// IsCreditLine reports whether the type carries a credit limit.
func (t AccountType) IsCreditLine() bool {
	return t == AccountCredit || t == AccountConfirming
}

// Account represents a bank account owned by a company.
//
// For credit and confirming accounts the stored balance is the signed
// amount drawn (always <= 0); available capacity is derived, never
// stored, so the capacity invariant 0 <= available <= credit_limit
// cannot drift.
type Account struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	CompanyID   uuid.UUID       `json:"company_id" db:"company_id"`
	Name        string          `json:"name" db:"name"`
	IBAN        string          `json:"iban,omitempty" db:"iban"`
	AccountType AccountType     `json:"account_type" db:"account_type"`
	Currency    string          `json:"currency" db:"currency"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	CreditLimit decimal.Decimal `json:"credit_limit" db:"credit_limit"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Available returns the usable capacity of the account: the balance
// itself for current accounts, the undrawn remainder of the credit
// limit for credit and confirming accounts.
func (a *Account) Available() decimal.Decimal {
	if a.AccountType.IsCreditLine() {
		return a.CreditLimit.Add(a.Balance)
	}
	return a.Balance
}

// CanCover reports whether the account has capacity for an outgoing
// amount.
func (a *Account) CanCover(amount decimal.Decimal) bool {
	return a.Available().GreaterThanOrEqual(amount)
}

// Debit reduces the account's capacity by amount and returns the new
// balance. Callers must have checked CanCover first; Debit itself is
// pure arithmetic.
func (a *Account) Debit(amount decimal.Decimal) decimal.Decimal {
	a.Balance = a.Balance.Sub(amount)
	return a.Balance
}

// Credit increases the account's capacity by amount and returns the
// new balance. For credit lines the result may not exceed the limit;
// CanAbsorb gates that.
func (a *Account) Credit(amount decimal.Decimal) decimal.Decimal {
	a.Balance = a.Balance.Add(amount)
	return a.Balance
}

// CanAbsorb reports whether an incoming amount fits the account: always
// true for current accounts, bounded by the credit limit for credit
// lines (balance may not rise above zero).
func (a *Account) CanAbsorb(amount decimal.Decimal) bool {
	if a.AccountType.IsCreditLine() {
		return a.Balance.Add(amount).LessThanOrEqual(decimal.Zero)
	}
	return true
}
