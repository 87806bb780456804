package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/treasurydesk/backend/internal/models"
)

// PostgresStore implements Store over database/sql. The engine already
// serializes writers per account; the store still takes FOR UPDATE row
// locks inside its transactions so a second process sharing the
// database cannot interleave.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, company_id, name, iban, account_type, currency, balance, credit_limit, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	var a models.Account
	var iban sql.NullString
	err := row.Scan(&a.ID, &a.CompanyID, &a.Name, &iban, &a.AccountType, &a.Currency,
		&a.Balance, &a.CreditLimit, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.IBAN = iban.String
	return &a, nil
}

func notFoundOr(err error, kind string, id uuid.UUID) error {
	if errors.Is(err, sql.ErrNoRows) {
		return Errf(KindNotFound, "%s %s not found", kind, id)
	}
	return err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *models.Account) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, company_id, name, iban, account_type, currency, balance, credit_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.CompanyID, a.Name, nullString(a.IBAN), a.AccountType, a.Currency,
		a.Balance, a.CreditLimit, a.CreatedAt, a.UpdatedAt)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *PostgresStore) Account(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1`, accountColumns), id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFoundOr(err, "account", id)
	}
	return a, nil
}

func (s *PostgresStore) Accounts(ctx context.Context, f AccountFilter) ([]*models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts`, accountColumns)
	args := []any{}
	if f.CompanyID != nil {
		query += ` WHERE company_id = $1`
		args = append(args, *f.CompanyID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveAccount(ctx context.Context, a *models.Account) error {
	a.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET name = $1, iban = $2, balance = $3, credit_limit = $4, updated_at = $5
		WHERE id = $6`,
		a.Name, nullString(a.IBAN), a.Balance, a.CreditLimit, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	return requireRow(result, "account", a.ID)
}

func requireRow(result sql.Result, kind string, id uuid.UUID) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return Errf(KindNotFound, "%s %s not found", kind, id)
	}
	return nil
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result, "account", id)
}

const transactionColumns = `id, transaction_type, from_account_id, to_account_id, amount, description, operation_id, from_balance_after, to_balance_after, transaction_date, created_at, seq`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	var from, to, op uuid.NullUUID
	var fromAfter, toAfter decimal.NullDecimal
	err := row.Scan(&t.ID, &t.TransactionType, &from, &to, &t.Amount, &t.Description,
		&op, &fromAfter, &toAfter, &t.TransactionDate, &t.CreatedAt, &t.Seq)
	if err != nil {
		return nil, err
	}
	if from.Valid {
		t.FromAccountID = &from.UUID
	}
	if to.Valid {
		t.ToAccountID = &to.UUID
	}
	if op.Valid {
		t.OperationID = &op.UUID
	}
	if fromAfter.Valid {
		t.FromBalanceAfter = &fromAfter.Decimal
	}
	if toAfter.Valid {
		t.ToBalanceAfter = &toAfter.Decimal
	}
	return &t, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// writeBalances locks and updates account rows inside tx.
func writeBalances(ctx context.Context, tx *sql.Tx, accounts []*models.Account) error {
	now := time.Now().UTC()
	for _, a := range accounts {
		var id uuid.UUID
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, a.ID).Scan(&id); err != nil {
			return notFoundOr(err, "account", a.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = $1, updated_at = $2 WHERE id = $3`,
			a.Balance, now, a.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ApplyTransaction(ctx context.Context, t *models.Transaction, accounts []*models.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := writeBalances(ctx, tx, accounts); err != nil {
		return err
	}

	t.CreatedAt = time.Now().UTC()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (id, transaction_type, from_account_id, to_account_id, amount, description, operation_id, from_balance_after, to_balance_after, transaction_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq`,
		t.ID, t.TransactionType, nullUUID(t.FromAccountID), nullUUID(t.ToAccountID),
		t.Amount, t.Description, nullUUID(t.OperationID),
		nullDecimal(t.FromBalanceAfter), nullDecimal(t.ToBalanceAfter),
		t.TransactionDate, t.CreatedAt).Scan(&t.Seq)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) RewriteTransaction(ctx context.Context, t *models.Transaction, accounts []*models.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := writeBalances(ctx, tx, accounts); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET amount = $1, description = $2, from_balance_after = $3, to_balance_after = $4, transaction_date = $5
		WHERE id = $6`,
		t.Amount, t.Description, nullDecimal(t.FromBalanceAfter), nullDecimal(t.ToBalanceAfter),
		t.TransactionDate, t.ID)
	if err != nil {
		return err
	}
	if err := requireRow(result, "transaction", t.ID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) RemoveTransaction(ctx context.Context, id uuid.UUID, accounts []*models.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := writeBalances(ctx, tx, accounts); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if err := requireRow(result, "transaction", id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) Transaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, transactionColumns), id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, notFoundOr(err, "transaction", id)
	}
	return t, nil
}

func (s *PostgresStore) Transactions(ctx context.Context, f TransactionFilter) ([]*models.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions`, transactionColumns)
	args := []any{}
	where := ""
	if f.AccountID != nil {
		args = append(args, *f.AccountID)
		where = fmt.Sprintf(` WHERE (from_account_id = $%d OR to_account_id = $%d)`, len(args), len(args))
	}
	if f.OperationID != nil {
		args = append(args, *f.OperationID)
		if where == "" {
			where = fmt.Sprintf(` WHERE operation_id = $%d`, len(args))
		} else {
			where += fmt.Sprintf(` AND operation_id = $%d`, len(args))
		}
	}
	query += where + ` ORDER BY seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestSeq(ctx context.Context, accountID uuid.UUID) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1`, accountID).Scan(&seq)
	return seq, err
}

func (s *PostgresStore) AssignOperation(ctx context.Context, txID uuid.UUID, opID *uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET operation_id = $1 WHERE id = $2`, nullUUID(opID), txID)
	if err != nil {
		return err
	}
	return requireRow(result, "transaction", txID)
}

const operationColumns = `id, name, description, notes, status, created_at, updated_at, closed_at`

func scanOperation(row interface{ Scan(...any) error }) (*models.Operation, error) {
	var op models.Operation
	var closed sql.NullTime
	err := row.Scan(&op.ID, &op.Name, &op.Description, &op.Notes, &op.Status,
		&op.CreatedAt, &op.UpdatedAt, &closed)
	if err != nil {
		return nil, err
	}
	if closed.Valid {
		op.ClosedAt = &closed.Time
	}
	return &op, nil
}

func (s *PostgresStore) CreateOperation(ctx context.Context, op *models.Operation) error {
	now := time.Now().UTC()
	op.CreatedAt = now
	op.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (id, name, description, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		op.ID, op.Name, op.Description, op.Notes, op.Status, op.CreatedAt, op.UpdatedAt)
	return err
}

func (s *PostgresStore) Operation(ctx context.Context, id uuid.UUID) (*models.Operation, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM operations WHERE id = $1`, operationColumns), id)
	op, err := scanOperation(row)
	if err != nil {
		return nil, notFoundOr(err, "operation", id)
	}
	return op, nil
}

func (s *PostgresStore) Operations(ctx context.Context, f OperationFilter) ([]*models.Operation, error) {
	query := fmt.Sprintf(`SELECT %s FROM operations`, operationColumns)
	args := []any{}
	if f.Status != nil {
		args = append(args, *f.Status)
		query += ` WHERE status = $1`
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveOperation(ctx context.Context, op *models.Operation) error {
	op.UpdatedAt = time.Now().UTC()
	var closed sql.NullTime
	if op.ClosedAt != nil {
		closed = sql.NullTime{Time: *op.ClosedAt, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE operations SET name = $1, description = $2, notes = $3, status = $4, updated_at = $5, closed_at = $6
		WHERE id = $7`,
		op.Name, op.Description, op.Notes, op.Status, op.UpdatedAt, closed, op.ID)
	if err != nil {
		return err
	}
	return requireRow(result, "operation", op.ID)
}

func (s *PostgresStore) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result, "operation", id)
}

func (s *PostgresStore) DetachTransactions(ctx context.Context, opID uuid.UUID) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET operation_id = NULL WHERE operation_id = $1`, opID)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

const pendingColumns = `id, from_group_id, to_group_id, amount, description, operation_id, settled_in_operation_id, status, created_at, settled_at`

func scanPendingEntry(row interface{ Scan(...any) error }) (*models.PendingEntry, error) {
	var e models.PendingEntry
	var op, settledIn uuid.NullUUID
	var settledAt sql.NullTime
	err := row.Scan(&e.ID, &e.FromGroupID, &e.ToGroupID, &e.Amount, &e.Description,
		&op, &settledIn, &e.Status, &e.CreatedAt, &settledAt)
	if err != nil {
		return nil, err
	}
	if op.Valid {
		e.OperationID = &op.UUID
	}
	if settledIn.Valid {
		e.SettledInOperationID = &settledIn.UUID
	}
	if settledAt.Valid {
		e.SettledAt = &settledAt.Time
	}
	return &e, nil
}

func (s *PostgresStore) CreatePendingEntry(ctx context.Context, e *models.PendingEntry) error {
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_entries (id, from_group_id, to_group_id, amount, description, operation_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.FromGroupID, e.ToGroupID, e.Amount, e.Description,
		nullUUID(e.OperationID), e.Status, e.CreatedAt)
	return err
}

func (s *PostgresStore) PendingEntry(ctx context.Context, id uuid.UUID) (*models.PendingEntry, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM pending_entries WHERE id = $1`, pendingColumns), id)
	e, err := scanPendingEntry(row)
	if err != nil {
		return nil, notFoundOr(err, "pending entry", id)
	}
	return e, nil
}

func (s *PostgresStore) PendingEntries(ctx context.Context, f PendingEntryFilter) ([]*models.PendingEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM pending_entries`, pendingColumns)
	args := []any{}
	clauses := []string{}
	if f.Status != nil {
		args = append(args, *f.Status)
		clauses = append(clauses, fmt.Sprintf(`status = $%d`, len(args)))
	}
	if f.GroupID != nil {
		args = append(args, *f.GroupID)
		clauses = append(clauses, fmt.Sprintf(`(from_group_id = $%d OR to_group_id = $%d)`, len(args), len(args)))
	}
	if f.OperationID != nil {
		args = append(args, *f.OperationID)
		clauses = append(clauses, fmt.Sprintf(`(operation_id = $%d OR settled_in_operation_id = $%d)`, len(args), len(args)))
	}
	for i, c := range clauses {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PendingEntry
	for rows.Next() {
		e, err := scanPendingEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SavePendingEntry(ctx context.Context, e *models.PendingEntry) error {
	var settledAt sql.NullTime
	if e.SettledAt != nil {
		settledAt = sql.NullTime{Time: *e.SettledAt, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE pending_entries
		SET amount = $1, description = $2, status = $3, settled_at = $4, settled_in_operation_id = $5
		WHERE id = $6`,
		e.Amount, e.Description, e.Status, settledAt, nullUUID(e.SettledInOperationID), e.ID)
	if err != nil {
		return err
	}
	return requireRow(result, "pending entry", e.ID)
}

func (s *PostgresStore) DeletePendingEntry(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pending_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result, "pending entry", id)
}

var _ Store = (*PostgresStore)(nil)
