package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/treasurydesk/backend/internal/models"
)

// AccountFilter narrows account listings.
type AccountFilter struct {
	CompanyID *uuid.UUID
}

// TransactionFilter narrows transaction listings. Results are newest
// first; Limit of 0 means no limit.
type TransactionFilter struct {
	AccountID   *uuid.UUID
	OperationID *uuid.UUID
	Limit       int
}

// OperationFilter narrows operation listings.
type OperationFilter struct {
	Status *models.OperationStatus
	Limit  int
}

// PendingEntryFilter narrows pending-entry listings. GroupID matches
// either side; OperationID matches either the creating or the settling
// operation.
type PendingEntryFilter struct {
	Status      *models.PendingEntryStatus
	GroupID     *uuid.UUID
	OperationID *uuid.UUID
}

// Store is the persistence contract for the ledger. Implementations
// must make ApplyTransaction, RewriteTransaction and RemoveTransaction
// atomic: either the transaction row and every account balance become
// visible together, or nothing does. Reads must never observe a half
// applied write.
//
// The engine serializes calls per account through its lock registry,
// so implementations do not need per-row locking beyond that
// atomicity (the Postgres store still takes FOR UPDATE row locks as a
// second line of defense).
type Store interface {
	// Accounts.
	CreateAccount(ctx context.Context, a *models.Account) error
	Account(ctx context.Context, id uuid.UUID) (*models.Account, error)
	Accounts(ctx context.Context, f AccountFilter) ([]*models.Account, error)
	SaveAccount(ctx context.Context, a *models.Account) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error

	// Transactions. Apply inserts the transaction and persists the new
	// balances of the given accounts in one atomic step; Rewrite does
	// the same for an edited transaction; Remove deletes the row while
	// persisting the reverted balances. Apply stamps CreatedAt and Seq.
	ApplyTransaction(ctx context.Context, t *models.Transaction, accounts []*models.Account) error
	RewriteTransaction(ctx context.Context, t *models.Transaction, accounts []*models.Account) error
	RemoveTransaction(ctx context.Context, id uuid.UUID, accounts []*models.Account) error
	Transaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	Transactions(ctx context.Context, f TransactionFilter) ([]*models.Transaction, error)
	// LatestSeq returns the highest Seq of any transaction touching the
	// account, or 0 when none do.
	LatestSeq(ctx context.Context, accountID uuid.UUID) (uint64, error)
	AssignOperation(ctx context.Context, txID uuid.UUID, opID *uuid.UUID) error

	// Operations.
	CreateOperation(ctx context.Context, op *models.Operation) error
	Operation(ctx context.Context, id uuid.UUID) (*models.Operation, error)
	Operations(ctx context.Context, f OperationFilter) ([]*models.Operation, error)
	SaveOperation(ctx context.Context, op *models.Operation) error
	DeleteOperation(ctx context.Context, id uuid.UUID) error
	// DetachTransactions nulls operation_id on every transaction of the
	// operation and returns how many were detached.
	DetachTransactions(ctx context.Context, opID uuid.UUID) (int, error)

	// Pending entries.
	CreatePendingEntry(ctx context.Context, e *models.PendingEntry) error
	PendingEntry(ctx context.Context, id uuid.UUID) (*models.PendingEntry, error)
	PendingEntries(ctx context.Context, f PendingEntryFilter) ([]*models.PendingEntry, error)
	SavePendingEntry(ctx context.Context, e *models.PendingEntry) error
	DeletePendingEntry(ctx context.Context, id uuid.UUID) error
}
