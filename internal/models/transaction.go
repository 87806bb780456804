package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType identifies the movement a transaction records.
type TransactionType string

const (
	TransactionTransfer             TransactionType = "transfer"
	TransactionDeposit              TransactionType = "deposit"
	TransactionWithdrawal           TransactionType = "withdrawal"
	TransactionConfirmingSettlement TransactionType = "confirming_settlement"
	TransactionAdjustment           TransactionType = "adjustment"
)

// Transaction is an applied ledger movement. Amount is always positive;
// which side an account sits on carries the sign. FromAccountID and
// ToAccountID are both set for transfers and settlements, exactly one
// is set for deposits, withdrawals and adjustments.
type Transaction struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	TransactionType  TransactionType  `json:"transaction_type" db:"transaction_type"`
	FromAccountID    *uuid.UUID       `json:"from_account_id,omitempty" db:"from_account_id"`
	ToAccountID      *uuid.UUID       `json:"to_account_id,omitempty" db:"to_account_id"`
	Amount           decimal.Decimal  `json:"amount" db:"amount"`
	Description      string           `json:"description" db:"description"`
	OperationID      *uuid.UUID       `json:"operation_id,omitempty" db:"operation_id"`
	FromBalanceAfter *decimal.Decimal `json:"from_balance_after,omitempty" db:"from_balance_after"`
	ToBalanceAfter   *decimal.Decimal `json:"to_balance_after,omitempty" db:"to_balance_after"`
	// TransactionDate is the user-supplied logical date of the movement;
	// CreatedAt is when the row was inserted. Seq totally orders
	// insertions and backs the last-transaction edit rule.
	TransactionDate time.Time `json:"transaction_date" db:"transaction_date"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	Seq             uint64    `json:"-" db:"seq"`
}

// Accounts returns the ids the transaction touches, from side first.
func (t *Transaction) Accounts() []uuid.UUID {
	ids := make([]uuid.UUID, 0, 2)
	if t.FromAccountID != nil {
		ids = append(ids, *t.FromAccountID)
	}
	if t.ToAccountID != nil {
		ids = append(ids, *t.ToAccountID)
	}
	return ids
}

// IsTransferShaped reports whether the transaction moves money between
// two accounts (a transfer or a settlement leg) rather than across the
// ledger boundary.
func (t *Transaction) IsTransferShaped() bool {
	return t.FromAccountID != nil && t.ToAccountID != nil
}
