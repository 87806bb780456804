package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PendingEntryStatus is the settlement state of a pending entry.
type PendingEntryStatus string

const (
	PendingEntryPending PendingEntryStatus = "pending"
	PendingEntrySettled PendingEntryStatus = "settled"
)

func (s PendingEntryStatus) Valid() bool {
	return s == PendingEntryPending || s == PendingEntrySettled
}

// PendingEntry records an inter-group IOU that is not (yet) backed by
// an account transfer. FromGroupID is the debtor, ToGroupID the
// creditor. Settling never moves money; it is a status flip, and the
// operation that settled the entry may be cross-referenced.
type PendingEntry struct {
	ID                   uuid.UUID          `json:"id" db:"id"`
	FromGroupID          uuid.UUID          `json:"from_group_id" db:"from_group_id"`
	ToGroupID            uuid.UUID          `json:"to_group_id" db:"to_group_id"`
	Amount               decimal.Decimal    `json:"amount" db:"amount"`
	Description          string             `json:"description" db:"description"`
	OperationID          *uuid.UUID         `json:"operation_id,omitempty" db:"operation_id"`
	SettledInOperationID *uuid.UUID         `json:"settled_in_operation_id,omitempty" db:"settled_in_operation_id"`
	Status               PendingEntryStatus `json:"status" db:"status"`
	CreatedAt            time.Time          `json:"created_at" db:"created_at"`
	SettledAt            *time.Time         `json:"settled_at,omitempty" db:"settled_at"`
}
