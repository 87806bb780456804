package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/treasurydesk/backend/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_Account(t *testing.T) {
	ctx := context.Background()

	t.Run("scans a row", func(t *testing.T) {
		store, mock := newMockStore(t)
		id := uuid.New()
		companyID := uuid.New()
		now := time.Now()

		mock.ExpectQuery(`SELECT id, company_id, name, iban, account_type, currency, balance, credit_limit, created_at, updated_at FROM accounts WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "company_id", "name", "iban", "account_type", "currency",
				"balance", "credit_limit", "created_at", "updated_at",
			}).AddRow(id, companyID, "Main", "ES9121000418450200051332", "current", "EUR",
				"1500", "0", now, now))

		account, err := store.Account(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Main", account.Name)
		assert.Equal(t, models.AccountCurrent, account.AccountType)
		assert.True(t, account.Balance.Equal(dec(1500)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps no rows to not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		id := uuid.New()

		mock.ExpectQuery(`SELECT .* FROM accounts WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.Account(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_ApplyTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("locks balances and inserts in one transaction", func(t *testing.T) {
		store, mock := newMockStore(t)

		from := &models.Account{ID: uuid.New(), Balance: dec(750)}
		to := &models.Account{ID: uuid.New(), Balance: dec(450)}
		fromAfter, toAfter := dec(750), dec(450)
		txn := &models.Transaction{
			ID:               uuid.New(),
			TransactionType:  models.TransactionTransfer,
			FromAccountID:    &from.ID,
			ToAccountID:      &to.ID,
			Amount:           dec(250),
			Description:      "invoice",
			FromBalanceAfter: &fromAfter,
			ToBalanceAfter:   &toAfter,
			TransactionDate:  time.Now(),
		}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs(from.ID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(from.ID))
		mock.ExpectExec(`UPDATE accounts SET balance = \$1, updated_at = \$2 WHERE id = \$3`).
			WithArgs(from.Balance, sqlmock.AnyArg(), from.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT id FROM accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs(to.ID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(to.ID))
		mock.ExpectExec(`UPDATE accounts SET balance = \$1, updated_at = \$2 WHERE id = \$3`).
			WithArgs(to.Balance, sqlmock.AnyArg(), to.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO transactions .* RETURNING seq`).
			WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))
		mock.ExpectCommit()

		require.NoError(t, store.ApplyTransaction(ctx, txn, []*models.Account{from, to}))
		assert.Equal(t, uint64(7), txn.Seq)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account rolls everything back", func(t *testing.T) {
		store, mock := newMockStore(t)

		account := &models.Account{ID: uuid.New(), Balance: dec(10)}
		after := dec(10)
		txn := &models.Transaction{
			ID:              uuid.New(),
			TransactionType: models.TransactionDeposit,
			ToAccountID:     &account.ID,
			Amount:          dec(10),
			ToBalanceAfter:  &after,
			TransactionDate: time.Now(),
		}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs(account.ID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		err := store.ApplyTransaction(ctx, txn, []*models.Account{account})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_LatestSeq(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)
	accountID := uuid.New()

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) FROM transactions`).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(42))

	seq, err := store.LatestSeq(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DetachTransactions(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)
	opID := uuid.New()

	mock.ExpectExec(`UPDATE transactions SET operation_id = NULL WHERE operation_id = \$1`).
		WithArgs(opID).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.DetachTransactions(ctx, opID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PendingEntries(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	status := models.PendingEntryPending
	groupID := uuid.New()
	entryID := uuid.New()
	fromGroup := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM pending_entries WHERE status = \$1 AND \(from_group_id = \$2 OR to_group_id = \$2\) ORDER BY created_at DESC`).
		WithArgs(status, groupID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "from_group_id", "to_group_id", "amount", "description",
			"operation_id", "settled_in_operation_id", "status", "created_at", "settled_at",
		}).AddRow(entryID, fromGroup, groupID, "300", "loan", nil, nil, "pending", time.Now(), nil))

	entries, err := store.PendingEntries(ctx, PendingEntryFilter{Status: &status, GroupID: &groupID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entryID, entries[0].ID)
	assert.True(t, entries[0].Amount.Equal(dec(300)))
	assert.Nil(t, entries[0].SettledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveOperation(t *testing.T) {
	ctx := context.Background()

	t.Run("updates a row", func(t *testing.T) {
		store, mock := newMockStore(t)
		now := time.Now()
		op := &models.Operation{
			ID:       uuid.New(),
			Name:     "Q3",
			Status:   models.OperationCompleted,
			ClosedAt: &now,
		}

		mock.ExpectExec(`UPDATE operations SET name = \$1, description = \$2, notes = \$3, status = \$4, updated_at = \$5, closed_at = \$6`).
			WithArgs(op.Name, op.Description, op.Notes, op.Status, sqlmock.AnyArg(), sqlmock.AnyArg(), op.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.SaveOperation(ctx, op))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero rows is not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		op := &models.Operation{ID: uuid.New(), Name: "ghost", Status: models.OperationOpen}

		mock.ExpectExec(`UPDATE operations SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.SaveOperation(ctx, op)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
