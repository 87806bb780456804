package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/treasurydesk/backend/internal/audit"
	"github.com/treasurydesk/backend/internal/models"
)

// Engine validates and atomically applies transactions against one or
// two accounts. Every mutating call runs its whole validate-then-write
// sequence inside exclusive per-account locks taken in ascending id
// order, so check-then-act races on available capacity cannot happen.
// Lock waits are bounded; a timed-out acquisition is retried a few
// times with backoff before the contention error reaches the caller.
type Engine struct {
	store         Store
	locks         *LockRegistry
	audit         *audit.Logger
	retryAttempts int
	retryBackoff  time.Duration
}

// NewEngine wires the engine. maxWait bounds each lock acquisition.
func NewEngine(store Store, maxWait time.Duration, retryAttempts int, retryBackoff time.Duration) *Engine {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Engine{
		store:         store,
		locks:         NewLockRegistry(maxWait),
		audit:         audit.NewLogger(),
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
	}
}

// Store exposes the engine's backing store for read-only collaborators.
func (e *Engine) Store() Store {
	return e.store
}

// withAccounts runs fn holding the locks for ids, retrying bounded
// times when acquisition times out. Only contention retries; every
// other failure surfaces immediately.
func (e *Engine) withAccounts(ctx context.Context, ids []uuid.UUID, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < e.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * e.retryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		var release func()
		release, err = e.locks.Acquire(ctx, ids...)
		if err != nil {
			if Retryable(err) {
				continue
			}
			return err
		}
		err = fn(ctx)
		release()
		if !Retryable(err) {
			return err
		}
	}
	return err
}

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Errf(KindValidation, "amount must be positive, got %s", amount)
	}
	return nil
}

func normalizeDate(date time.Time) time.Time {
	if date.IsZero() {
		return time.Now().UTC()
	}
	return date
}

// checkOperation verifies an optional operation reference points at an
// open operation.
func (e *Engine) checkOperation(ctx context.Context, opID *uuid.UUID) error {
	if opID == nil {
		return nil
	}
	op, err := e.store.Operation(ctx, *opID)
	if err != nil {
		return err
	}
	if op.Status != models.OperationOpen {
		return Errf(KindInvalidOperation, "operation %s is not open", op.ID)
	}
	return nil
}

// Deposit raises the capacity of an account from outside the ledger.
func (e *Engine) Deposit(ctx context.Context, to uuid.UUID, amount decimal.Decimal, description string, date time.Time, opID *uuid.UUID) (*models.Transaction, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if err := e.checkOperation(ctx, opID); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err := e.withAccounts(ctx, []uuid.UUID{to}, func(ctx context.Context) error {
		account, err := e.store.Account(ctx, to)
		if err != nil {
			return err
		}
		if !account.CanAbsorb(amount) {
			return Errf(KindInvalidOperation,
				"deposit of %s would push account %s over its credit limit", amount, account.ID)
		}
		after := account.Credit(amount)
		txn = &models.Transaction{
			ID:              uuid.New(),
			TransactionType: models.TransactionDeposit,
			ToAccountID:     &to,
			Amount:          amount,
			Description:     description,
			OperationID:     opID,
			ToBalanceAfter:  &after,
			TransactionDate: normalizeDate(date),
		}
		return e.store.ApplyTransaction(ctx, txn, []*models.Account{account})
	})
	if err != nil {
		e.audit.LogError("DEPOSIT", to.String(), err)
		return nil, err
	}
	e.audit.LogMovement("DEPOSIT", txn.ID.String(), amount, "", to.String())
	return txn, nil
}

// Withdrawal draws cash out of a current account. Credit lines do not
// support withdrawals; only transfers and settlements move a line.
func (e *Engine) Withdrawal(ctx context.Context, from uuid.UUID, amount decimal.Decimal, description string, date time.Time, opID *uuid.UUID) (*models.Transaction, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if err := e.checkOperation(ctx, opID); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err := e.withAccounts(ctx, []uuid.UUID{from}, func(ctx context.Context) error {
		account, err := e.store.Account(ctx, from)
		if err != nil {
			return err
		}
		if account.AccountType.IsCreditLine() {
			return Errf(KindInvalidOperation,
				"withdrawals are not valid on %s accounts", account.AccountType)
		}
		if !account.CanCover(amount) {
			return Errf(KindInsufficientFunds,
				"insufficient funds: available %s, requested %s", account.Available(), amount)
		}
		after := account.Debit(amount)
		txn = &models.Transaction{
			ID:               uuid.New(),
			TransactionType:  models.TransactionWithdrawal,
			FromAccountID:    &from,
			Amount:           amount,
			Description:      description,
			OperationID:      opID,
			FromBalanceAfter: &after,
			TransactionDate:  normalizeDate(date),
		}
		return e.store.ApplyTransaction(ctx, txn, []*models.Account{account})
	})
	if err != nil {
		e.audit.LogError("WITHDRAWAL", from.String(), err)
		return nil, err
	}
	e.audit.LogMovement("WITHDRAWAL", txn.ID.String(), amount, from.String(), "")
	return txn, nil
}

// Transfer atomically moves amount from one account to another.
// Conservation holds: the sum of the two availables is unchanged.
func (e *Engine) Transfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal, description string, date time.Time, opID *uuid.UUID) (*models.Transaction, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if from == to {
		return nil, Errf(KindSameAccount, "cannot transfer from an account to itself")
	}
	if err := e.checkOperation(ctx, opID); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err := e.withAccounts(ctx, []uuid.UUID{from, to}, func(ctx context.Context) error {
		src, err := e.store.Account(ctx, from)
		if err != nil {
			return err
		}
		dst, err := e.store.Account(ctx, to)
		if err != nil {
			return err
		}
		if dst.AccountType == models.AccountConfirming {
			return Errf(KindInvalidAccountType, "confirming accounts cannot receive transfers")
		}
		if !src.CanCover(amount) {
			return Errf(KindInsufficientFunds,
				"insufficient funds: available %s, requested %s", src.Available(), amount)
		}
		if !dst.CanAbsorb(amount) {
			return Errf(KindInvalidOperation,
				"transfer of %s would push account %s over its credit limit", amount, dst.ID)
		}
		fromAfter := src.Debit(amount)
		toAfter := dst.Credit(amount)
		txn = &models.Transaction{
			ID:               uuid.New(),
			TransactionType:  models.TransactionTransfer,
			FromAccountID:    &from,
			ToAccountID:      &to,
			Amount:           amount,
			Description:      description,
			OperationID:      opID,
			FromBalanceAfter: &fromAfter,
			ToBalanceAfter:   &toAfter,
			TransactionDate:  normalizeDate(date),
		}
		return e.store.ApplyTransaction(ctx, txn, []*models.Account{src, dst})
	})
	if err != nil {
		e.audit.LogError("TRANSFER", from.String(), err)
		return nil, err
	}
	e.audit.LogMovement("TRANSFER", txn.ID.String(), amount, from.String(), to.String())
	return txn, nil
}

// ConfirmingSettlement pays down a confirming line from a cash
// account: the charge account is debited like a withdrawal and the
// confirming account regains the settled capacity.
func (e *Engine) ConfirmingSettlement(ctx context.Context, confirming, charge uuid.UUID, amount decimal.Decimal, description string, date time.Time, opID *uuid.UUID) (*models.Transaction, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if confirming == charge {
		return nil, Errf(KindSameAccount, "settlement accounts must differ")
	}
	if err := e.checkOperation(ctx, opID); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err := e.withAccounts(ctx, []uuid.UUID{confirming, charge}, func(ctx context.Context) error {
		line, err := e.store.Account(ctx, confirming)
		if err != nil {
			return err
		}
		cash, err := e.store.Account(ctx, charge)
		if err != nil {
			return err
		}
		if line.AccountType != models.AccountConfirming {
			return Errf(KindInvalidAccountType,
				"account %s is %s, settlement requires a confirming account", line.ID, line.AccountType)
		}
		if cash.AccountType != models.AccountCurrent {
			return Errf(KindInvalidAccountType,
				"account %s is %s, settlement must be charged to a current account", cash.ID, cash.AccountType)
		}
		if !cash.CanCover(amount) {
			return Errf(KindInsufficientFunds,
				"insufficient funds: available %s, requested %s", cash.Available(), amount)
		}
		if !line.CanAbsorb(amount) {
			return Errf(KindInvalidOperation,
				"settlement of %s exceeds the drawn amount on account %s", amount, line.ID)
		}
		fromAfter := cash.Debit(amount)
		toAfter := line.Credit(amount)
		txn = &models.Transaction{
			ID:               uuid.New(),
			TransactionType:  models.TransactionConfirmingSettlement,
			FromAccountID:    &charge,
			ToAccountID:      &confirming,
			Amount:           amount,
			Description:      description,
			OperationID:      opID,
			FromBalanceAfter: &fromAfter,
			ToBalanceAfter:   &toAfter,
			TransactionDate:  normalizeDate(date),
		}
		return e.store.ApplyTransaction(ctx, txn, []*models.Account{cash, line})
	})
	if err != nil {
		e.audit.LogError("CONFIRMING_SETTLEMENT", charge.String(), err)
		return nil, err
	}
	e.audit.LogMovement("CONFIRMING_SETTLEMENT", txn.ID.String(), amount, charge.String(), confirming.String())
	return txn, nil
}

// AdjustTo moves an account's balance to target through an adjustment
// transaction, so the audit trail always explains the change. A target
// equal to the current balance is rejected as a no-op.
func (e *Engine) AdjustTo(ctx context.Context, accountID uuid.UUID, target decimal.Decimal, description string) (*models.Transaction, error) {
	var txn *models.Transaction
	err := e.withAccounts(ctx, []uuid.UUID{accountID}, func(ctx context.Context) error {
		account, err := e.store.Account(ctx, accountID)
		if err != nil {
			return err
		}
		delta := target.Sub(account.Balance)
		if delta.IsZero() {
			return Errf(KindNoOp, "balance of account %s is already %s", accountID, target)
		}
		if account.AccountType.IsCreditLine() {
			if target.GreaterThan(decimal.Zero) || target.Neg().GreaterThan(account.CreditLimit) {
				return Errf(KindValidation,
					"target balance %s breaks the capacity bounds of account %s", target, accountID)
			}
		}
		account.Balance = target
		txn = &models.Transaction{
			ID:              uuid.New(),
			TransactionType: models.TransactionAdjustment,
			Amount:          delta.Abs(),
			Description:     description,
			TransactionDate: time.Now().UTC(),
		}
		if delta.IsPositive() {
			txn.ToAccountID = &accountID
			txn.ToBalanceAfter = &target
		} else {
			txn.FromAccountID = &accountID
			txn.FromBalanceAfter = &target
		}
		return e.store.ApplyTransaction(ctx, txn, []*models.Account{account})
	})
	if err != nil {
		return nil, err
	}
	e.audit.LogChange("ADJUSTMENT", txn.ID.String(), description)
	return txn, nil
}

// canEdit evaluates the last-transaction rule: a transaction may be
// edited or deleted only while no later transaction touches any of its
// accounts. Balances are running totals; rewriting history would leave
// every later balance_after snapshot wrong.
func (e *Engine) canEdit(ctx context.Context, txn *models.Transaction) (bool, error) {
	for _, id := range txn.Accounts() {
		latest, err := e.store.LatestSeq(ctx, id)
		if err != nil {
			return false, err
		}
		if latest != txn.Seq {
			return false, nil
		}
	}
	return true, nil
}

// CanEdit is the read-only form of the last-transaction rule, for
// client-side gating.
func (e *Engine) CanEdit(ctx context.Context, txID uuid.UUID) (bool, error) {
	txn, err := e.store.Transaction(ctx, txID)
	if err != nil {
		return false, err
	}
	return e.canEdit(ctx, txn)
}

// revert undoes a transaction's deltas on the given accounts, mapped
// by id.
func revert(txn *models.Transaction, accounts map[uuid.UUID]*models.Account) {
	if txn.FromAccountID != nil {
		accounts[*txn.FromAccountID].Credit(txn.Amount)
	}
	if txn.ToAccountID != nil {
		accounts[*txn.ToAccountID].Debit(txn.Amount)
	}
}

func (e *Engine) loadAccounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Account, error) {
	accounts := make(map[uuid.UUID]*models.Account, len(ids))
	for _, id := range ids {
		a, err := e.store.Account(ctx, id)
		if err != nil {
			return nil, err
		}
		accounts[id] = a
	}
	return accounts, nil
}

// Edit atomically reverts the old delta of the latest transaction on
// its accounts and applies the new one.
func (e *Engine) Edit(ctx context.Context, txID uuid.UUID, newAmount decimal.Decimal, newDescription string, newDate time.Time) (*models.Transaction, error) {
	if err := validAmount(newAmount); err != nil {
		return nil, err
	}

	stale, err := e.store.Transaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	var updated *models.Transaction
	err = e.withAccounts(ctx, stale.Accounts(), func(ctx context.Context) error {
		txn, err := e.store.Transaction(ctx, txID)
		if err != nil {
			return err
		}
		ok, err := e.canEdit(ctx, txn)
		if err != nil {
			return err
		}
		if !ok {
			return Errf(KindNotEditable,
				"transaction %s is not the latest on all of its accounts", txID)
		}
		accounts, err := e.loadAccounts(ctx, txn.Accounts())
		if err != nil {
			return err
		}
		revert(txn, accounts)

		if txn.FromAccountID != nil {
			src := accounts[*txn.FromAccountID]
			if !src.CanCover(newAmount) {
				return Errf(KindInsufficientFunds,
					"insufficient funds: available %s after revert, requested %s", src.Available(), newAmount)
			}
			after := src.Debit(newAmount)
			txn.FromBalanceAfter = &after
		}
		if txn.ToAccountID != nil {
			dst := accounts[*txn.ToAccountID]
			if !dst.CanAbsorb(newAmount) {
				return Errf(KindInvalidOperation,
					"amount %s would push account %s over its credit limit", newAmount, dst.ID)
			}
			after := dst.Credit(newAmount)
			txn.ToBalanceAfter = &after
		}

		txn.Amount = newAmount
		txn.Description = newDescription
		txn.TransactionDate = normalizeDate(newDate)

		all := make([]*models.Account, 0, len(accounts))
		for _, a := range accounts {
			all = append(all, a)
		}
		updated = txn
		return e.store.RewriteTransaction(ctx, txn, all)
	})
	if err != nil {
		return nil, err
	}
	e.audit.LogChange("TRANSACTION_EDIT", txID.String(), newDescription)
	return updated, nil
}

// Delete reverts the latest transaction on its accounts and removes
// the record.
func (e *Engine) Delete(ctx context.Context, txID uuid.UUID) error {
	stale, err := e.store.Transaction(ctx, txID)
	if err != nil {
		return err
	}

	err = e.withAccounts(ctx, stale.Accounts(), func(ctx context.Context) error {
		txn, err := e.store.Transaction(ctx, txID)
		if err != nil {
			return err
		}
		ok, err := e.canEdit(ctx, txn)
		if err != nil {
			return err
		}
		if !ok {
			return Errf(KindNotEditable,
				"transaction %s is not the latest on all of its accounts", txID)
		}
		accounts, err := e.loadAccounts(ctx, txn.Accounts())
		if err != nil {
			return err
		}
		revert(txn, accounts)

		all := make([]*models.Account, 0, len(accounts))
		for _, a := range accounts {
			all = append(all, a)
		}
		return e.store.RemoveTransaction(ctx, txID, all)
	})
	if err != nil {
		return err
	}
	e.audit.LogChange("TRANSACTION_DELETE", txID.String(), "")
	return nil
}
