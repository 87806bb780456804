package services

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// AttachmentStore holds supporting documents keyed by transaction id.
// The ledger only tracks ids; content lives behind this interface and
// is served by whatever blob backend the deployment wires in.
type AttachmentStore interface {
	Put(ctx context.Context, transactionID uuid.UUID, name string, content io.Reader) (string, error)
	Get(ctx context.Context, transactionID uuid.UUID, name string) (io.ReadCloser, error)
	List(ctx context.Context, transactionID uuid.UUID) ([]string, error)
	Delete(ctx context.Context, transactionID uuid.UUID, name string) error
}
