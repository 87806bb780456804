// Package permissions gates account access per actor. Supervisors see
// and move everything; plain users act only on accounts an explicit
// grant covers.
package permissions

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/treasurydesk/backend/internal/models"
)

// Oracle answers capability questions for an actor and an account.
type Oracle interface {
	CanView(ctx context.Context, actor models.Actor, accountID uuid.UUID) (bool, error)
	CanTransfer(ctx context.Context, actor models.Actor, accountID uuid.UUID) (bool, error)
}

// SQLOracle reads grants from the account_permissions table.
type SQLOracle struct {
	db *sql.DB
}

// NewSQLOracle wraps an open connection pool.
func NewSQLOracle(db *sql.DB) *SQLOracle {
	return &SQLOracle{db: db}
}

func (o *SQLOracle) check(ctx context.Context, actor models.Actor, accountID uuid.UUID, column string) (bool, error) {
	if actor.IsSupervisor() {
		return true, nil
	}
	var allowed bool
	err := o.db.QueryRowContext(ctx, `
		SELECT COALESCE(bool_or(`+column+`), false) FROM account_permissions
		WHERE user_id = $1 AND account_id = $2`,
		actor.ID, accountID).Scan(&allowed)
	if err != nil {
		return false, err
	}
	return allowed, nil
}

func (o *SQLOracle) CanView(ctx context.Context, actor models.Actor, accountID uuid.UUID) (bool, error) {
	return o.check(ctx, actor, accountID, "can_view")
}

func (o *SQLOracle) CanTransfer(ctx context.Context, actor models.Actor, accountID uuid.UUID) (bool, error) {
	return o.check(ctx, actor, accountID, "can_transfer")
}

var _ Oracle = (*SQLOracle)(nil)

// Static is an in-memory oracle for tests and single-tenant setups.
type Static struct {
	View     map[uuid.UUID]map[uuid.UUID]bool
	Transfer map[uuid.UUID]map[uuid.UUID]bool
}

// NewStatic builds an empty static oracle.
func NewStatic() *Static {
	return &Static{
		View:     make(map[uuid.UUID]map[uuid.UUID]bool),
		Transfer: make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// Grant allows the user to view and, when transfer is set, move money
// on the account.
func (s *Static) Grant(userID, accountID uuid.UUID, transfer bool) {
	if s.View[userID] == nil {
		s.View[userID] = make(map[uuid.UUID]bool)
	}
	s.View[userID][accountID] = true
	if transfer {
		if s.Transfer[userID] == nil {
			s.Transfer[userID] = make(map[uuid.UUID]bool)
		}
		s.Transfer[userID][accountID] = true
	}
}

func (s *Static) CanView(_ context.Context, actor models.Actor, accountID uuid.UUID) (bool, error) {
	if actor.IsSupervisor() {
		return true, nil
	}
	return s.View[actor.ID][accountID], nil
}

func (s *Static) CanTransfer(_ context.Context, actor models.Actor, accountID uuid.UUID) (bool, error) {
	if actor.IsSupervisor() {
		return true, nil
	}
	return s.Transfer[actor.ID][accountID], nil
}

var _ Oracle = (*Static)(nil)
