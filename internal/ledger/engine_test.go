package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/treasurydesk/backend/internal/models"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func newTestEngine() (*Engine, *MemoryStore) {
	store := NewMemoryStore()
	engine := NewEngine(store, 500*time.Millisecond, 3, 5*time.Millisecond)
	return engine, store
}

func seedCurrent(t *testing.T, store *MemoryStore, balance decimal.Decimal) *models.Account {
	t.Helper()
	account := &models.Account{
		ID:          uuid.New(),
		CompanyID:   uuid.New(),
		Name:        "test current",
		AccountType: models.AccountCurrent,
		Currency:    "EUR",
		Balance:     balance,
	}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

func seedCreditLine(t *testing.T, store *MemoryStore, accountType models.AccountType, limit decimal.Decimal) *models.Account {
	t.Helper()
	account := &models.Account{
		ID:          uuid.New(),
		CompanyID:   uuid.New(),
		Name:        "test line",
		AccountType: accountType,
		Currency:    "EUR",
		CreditLimit: limit,
	}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

func balanceOf(t *testing.T, store *MemoryStore, id uuid.UUID) decimal.Decimal {
	t.Helper()
	account, err := store.Account(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}

func TestEngine_Deposit(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine()

	t.Run("credits a current account", func(t *testing.T) {
		account := seedCurrent(t, store, dec(100))

		txn, err := engine.Deposit(ctx, account.ID, dec(50), "payroll", time.Time{}, nil)
		require.NoError(t, err)

		assert.Equal(t, models.TransactionDeposit, txn.TransactionType)
		assert.True(t, txn.ToBalanceAfter.Equal(dec(150)))
		assert.True(t, balanceOf(t, store, account.ID).Equal(dec(150)))
	})

	t.Run("restores capacity on a drawn credit line", func(t *testing.T) {
		line := seedCreditLine(t, store, models.AccountCredit, dec(1000))
		line.Balance = dec(-400)
		require.NoError(t, store.SaveAccount(ctx, line))

		_, err := engine.Deposit(ctx, line.ID, dec(400), "repayment", time.Time{}, nil)
		require.NoError(t, err)
		assert.True(t, balanceOf(t, store, line.ID).IsZero())
	})

	t.Run("rejects pushing a line over its limit", func(t *testing.T) {
		line := seedCreditLine(t, store, models.AccountCredit, dec(1000))

		_, err := engine.Deposit(ctx, line.ID, dec(1), "overpay", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		account := seedCurrent(t, store, dec(100))

		_, err := engine.Deposit(ctx, account.ID, dec(0), "", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrValidation)

		_, err = engine.Deposit(ctx, account.ID, dec(-5), "", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects an unknown account", func(t *testing.T) {
		_, err := engine.Deposit(ctx, uuid.New(), dec(10), "", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEngine_Withdrawal(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine()

	t.Run("debits a current account", func(t *testing.T) {
		account := seedCurrent(t, store, dec(1000))

		txn, err := engine.Withdrawal(ctx, account.ID, dec(300), "cash", time.Time{}, nil)
		require.NoError(t, err)
		assert.True(t, txn.FromBalanceAfter.Equal(dec(700)))
		assert.True(t, balanceOf(t, store, account.ID).Equal(dec(700)))
	})

	t.Run("insufficient funds leaves the balance untouched", func(t *testing.T) {
		account := seedCurrent(t, store, dec(1000))

		_, err := engine.Withdrawal(ctx, account.ID, dec(1500), "too much", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.True(t, balanceOf(t, store, account.ID).Equal(dec(1000)))
	})

	t.Run("credit lines cannot be withdrawn from", func(t *testing.T) {
		line := seedCreditLine(t, store, models.AccountCredit, dec(1000))

		_, err := engine.Withdrawal(ctx, line.ID, dec(100), "", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})
}

func TestEngine_Transfer(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine()

	t.Run("conserves the total across both accounts", func(t *testing.T) {
		src := seedCurrent(t, store, dec(1000))
		dst := seedCurrent(t, store, dec(200))

		txn, err := engine.Transfer(ctx, src.ID, dst.ID, dec(250), "invoice 42", time.Time{}, nil)
		require.NoError(t, err)

		assert.True(t, txn.FromBalanceAfter.Equal(dec(750)))
		assert.True(t, txn.ToBalanceAfter.Equal(dec(450)))
		total := balanceOf(t, store, src.ID).Add(balanceOf(t, store, dst.ID))
		assert.True(t, total.Equal(dec(1200)))
	})

	t.Run("draws down a credit line within its limit", func(t *testing.T) {
		line := seedCreditLine(t, store, models.AccountCredit, dec(5000))
		dst := seedCurrent(t, store, dec(0))

		_, err := engine.Transfer(ctx, line.ID, dst.ID, dec(2000), "supplier", time.Time{}, nil)
		require.NoError(t, err)

		lineAfter, err := store.Account(ctx, line.ID)
		require.NoError(t, err)
		assert.True(t, lineAfter.Balance.Equal(dec(-2000)))
		assert.True(t, lineAfter.Available().Equal(dec(3000)))
		assert.True(t, balanceOf(t, store, dst.ID).Equal(dec(2000)))
	})

	t.Run("rejects exceeding the line's available capacity", func(t *testing.T) {
		line := seedCreditLine(t, store, models.AccountCredit, dec(500))
		dst := seedCurrent(t, store, dec(0))

		_, err := engine.Transfer(ctx, line.ID, dst.ID, dec(501), "", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.True(t, balanceOf(t, store, line.ID).IsZero())
		assert.True(t, balanceOf(t, store, dst.ID).IsZero())
	})

	t.Run("rejects transfers into a confirming account", func(t *testing.T) {
		src := seedCurrent(t, store, dec(1000))
		line := seedCreditLine(t, store, models.AccountConfirming, dec(1000))

		_, err := engine.Transfer(ctx, src.ID, line.ID, dec(100), "", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrInvalidAccountType)
	})

	t.Run("rejects transfers to the same account", func(t *testing.T) {
		account := seedCurrent(t, store, dec(1000))

		_, err := engine.Transfer(ctx, account.ID, account.ID, dec(100), "", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrSameAccount)
	})

	t.Run("rejects a closed operation reference", func(t *testing.T) {
		src := seedCurrent(t, store, dec(1000))
		dst := seedCurrent(t, store, dec(0))
		op := &models.Operation{ID: uuid.New(), Name: "done", Status: models.OperationCompleted}
		require.NoError(t, store.CreateOperation(ctx, op))

		_, err := engine.Transfer(ctx, src.ID, dst.ID, dec(100), "", time.Time{}, &op.ID)
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})
}

func TestEngine_ConfirmingSettlement(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine()

	t.Run("repays drawn capacity from a cash account", func(t *testing.T) {
		line := seedCreditLine(t, store, models.AccountConfirming, dec(5000))
		supplier := seedCurrent(t, store, dec(0))
		cash := seedCurrent(t, store, dec(3000))

		_, err := engine.Transfer(ctx, line.ID, supplier.ID, dec(2000), "supplier invoice", time.Time{}, nil)
		require.NoError(t, err)

		lineMid, err := store.Account(ctx, line.ID)
		require.NoError(t, err)
		assert.True(t, lineMid.Available().Equal(dec(3000)))

		_, err = engine.ConfirmingSettlement(ctx, line.ID, cash.ID, dec(2000), "monthly settlement", time.Time{}, nil)
		require.NoError(t, err)

		lineAfter, err := store.Account(ctx, line.ID)
		require.NoError(t, err)
		assert.True(t, lineAfter.Balance.IsZero())
		assert.True(t, lineAfter.Available().Equal(dec(5000)))
		assert.True(t, balanceOf(t, store, cash.ID).Equal(dec(1000)))
	})

	t.Run("rejects settling a non-confirming account", func(t *testing.T) {
		line := seedCreditLine(t, store, models.AccountCredit, dec(1000))
		cash := seedCurrent(t, store, dec(1000))

		_, err := engine.ConfirmingSettlement(ctx, line.ID, cash.ID, dec(100), "", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrInvalidAccountType)
	})

	t.Run("rejects charging a non-current account", func(t *testing.T) {
		line := seedCreditLine(t, store, models.AccountConfirming, dec(1000))
		other := seedCreditLine(t, store, models.AccountCredit, dec(1000))

		_, err := engine.ConfirmingSettlement(ctx, line.ID, other.ID, dec(100), "", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrInvalidAccountType)
	})

	t.Run("rejects settling more than is drawn", func(t *testing.T) {
		line := seedCreditLine(t, store, models.AccountConfirming, dec(1000))
		cash := seedCurrent(t, store, dec(1000))

		_, err := engine.ConfirmingSettlement(ctx, line.ID, cash.ID, dec(100), "", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})
}

func TestEngine_AdjustTo(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine()

	t.Run("records an adjustment transaction", func(t *testing.T) {
		account := seedCurrent(t, store, dec(100))

		txn, err := engine.AdjustTo(ctx, account.ID, dec(250), "bank statement sync")
		require.NoError(t, err)
		assert.Equal(t, models.TransactionAdjustment, txn.TransactionType)
		assert.True(t, txn.Amount.Equal(dec(150)))
		assert.Equal(t, account.ID, *txn.ToAccountID)
		assert.True(t, balanceOf(t, store, account.ID).Equal(dec(250)))
	})

	t.Run("downward adjustments debit the account", func(t *testing.T) {
		account := seedCurrent(t, store, dec(100))

		txn, err := engine.AdjustTo(ctx, account.ID, dec(40), "correction")
		require.NoError(t, err)
		assert.Equal(t, account.ID, *txn.FromAccountID)
		assert.True(t, txn.Amount.Equal(dec(60)))
	})

	t.Run("same target is a no-op error", func(t *testing.T) {
		account := seedCurrent(t, store, dec(100))

		_, err := engine.AdjustTo(ctx, account.ID, dec(100), "noop")
		assert.ErrorIs(t, err, ErrNoOp)
	})

	t.Run("credit line targets must stay inside the capacity bounds", func(t *testing.T) {
		line := seedCreditLine(t, store, models.AccountCredit, dec(1000))

		_, err := engine.AdjustTo(ctx, line.ID, dec(10), "positive")
		assert.ErrorIs(t, err, ErrValidation)

		_, err = engine.AdjustTo(ctx, line.ID, dec(-1001), "beyond limit")
		assert.ErrorIs(t, err, ErrValidation)

		_, err = engine.AdjustTo(ctx, line.ID, dec(-600), "drawn sync")
		require.NoError(t, err)
		assert.True(t, balanceOf(t, store, line.ID).Equal(dec(-600)))
	})
}

func TestEngine_LastTransactionRule(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine()

	setup := func(t *testing.T) (a, b, c *models.Account, first, second *models.Transaction) {
		a = seedCurrent(t, store, dec(1000))
		b = seedCurrent(t, store, dec(1000))
		c = seedCurrent(t, store, dec(1000))

		var err error
		first, err = engine.Transfer(ctx, a.ID, b.ID, dec(100), "first", time.Time{}, nil)
		require.NoError(t, err)
		second, err = engine.Transfer(ctx, b.ID, c.ID, dec(50), "second", time.Time{}, nil)
		require.NoError(t, err)
		return
	}

	t.Run("only the latest transaction per account is editable", func(t *testing.T) {
		_, _, _, first, second := setup(t)

		ok, err := engine.CanEdit(ctx, first.ID)
		require.NoError(t, err)
		assert.False(t, ok, "a later transfer touches account b")

		ok, err = engine.CanEdit(ctx, second.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("editing a stale transaction fails", func(t *testing.T) {
		_, _, _, first, _ := setup(t)

		_, err := engine.Edit(ctx, first.ID, dec(200), "rewrite", time.Time{})
		assert.ErrorIs(t, err, ErrNotEditable)
	})

	t.Run("editing the latest transaction reverts and reapplies", func(t *testing.T) {
		_, b, c, _, second := setup(t)

		updated, err := engine.Edit(ctx, second.ID, dec(300), "corrected", time.Time{})
		require.NoError(t, err)
		assert.True(t, updated.Amount.Equal(dec(300)))
		assert.Equal(t, "corrected", updated.Description)

		// b: 1000 +100 -300, c: 1000 +300
		assert.True(t, balanceOf(t, store, b.ID).Equal(dec(800)))
		assert.True(t, balanceOf(t, store, c.ID).Equal(dec(1300)))
	})

	t.Run("edit keeps the capacity checks", func(t *testing.T) {
		a, b, _, _, _ := setup(t)

		txn, err := engine.Transfer(ctx, a.ID, b.ID, dec(10), "small", time.Time{}, nil)
		require.NoError(t, err)

		_, err = engine.Edit(ctx, txn.ID, dec(1_000_000), "too big", time.Time{})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("deleting the latest transaction restores balances", func(t *testing.T) {
		_, b, c, _, second := setup(t)
		bBefore := balanceOf(t, store, b.ID)
		cBefore := balanceOf(t, store, c.ID)

		require.NoError(t, engine.Delete(ctx, second.ID))

		assert.True(t, balanceOf(t, store, b.ID).Equal(bBefore.Add(dec(50))))
		assert.True(t, balanceOf(t, store, c.ID).Equal(cBefore.Sub(dec(50))))

		_, err := store.Transaction(ctx, second.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("deleting a stale transaction fails", func(t *testing.T) {
		_, _, _, first, _ := setup(t)

		err := engine.Delete(ctx, first.ID)
		assert.ErrorIs(t, err, ErrNotEditable)
	})
}

func TestEngine_ConcurrentTransfers(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine()

	src := seedCurrent(t, store, dec(100))
	dst := seedCurrent(t, store, dec(0))

	// 100 goroutines each try to move 10; only 10 can succeed.
	const workers = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Transfer(ctx, src.ID, dst.ID, dec(10), "race", time.Time{}, nil)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.True(t, balanceOf(t, store, src.ID).IsZero())
	assert.True(t, balanceOf(t, store, dst.ID).Equal(dec(100)))
}
