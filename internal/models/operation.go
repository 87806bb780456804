package models

import (
	"time"

	"github.com/google/uuid"
)

// OperationStatus is the lifecycle state of an operation.
type OperationStatus string

const (
	OperationOpen      OperationStatus = "open"
	OperationCompleted OperationStatus = "completed"
	OperationCancelled OperationStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s OperationStatus) Valid() bool {
	switch s {
	case OperationOpen, OperationCompleted, OperationCancelled:
		return true
	}
	return false
}

// Operation groups transactions into a named business flow. Closing
// (completing or cancelling) stamps ClosedAt; reopening clears it.
type Operation struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Notes       string          `json:"notes" db:"notes"`
	Status      OperationStatus `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
}
