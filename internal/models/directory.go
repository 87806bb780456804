package models

import "github.com/google/uuid"

// Company is the external owner of accounts. Only the fields the
// ledger needs for aggregation are carried here; company CRUD lives
// elsewhere.
type Company struct {
	ID      uuid.UUID  `json:"id" db:"id"`
	Name    string     `json:"name" db:"name"`
	GroupID *uuid.UUID `json:"group_id,omitempty" db:"group_id"`
}

// Group is an organizational rollup of companies used for netting.
type Group struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Name string    `json:"name" db:"name"`
}

// Actor is the authenticated caller as resolved by the identity layer.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role"`
}

// RoleSupervisor bypasses per-account permission checks.
const (
	RoleSupervisor = "supervisor"
	RoleUser       = "user"
)

// IsSupervisor reports whether the actor holds the supervisor role.
func (a Actor) IsSupervisor() bool {
	return a.Role == RoleSupervisor
}
