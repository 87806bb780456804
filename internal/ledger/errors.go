package ledger

import (
	"errors"
	"fmt"
)

// Kind is the stable classification of a ledger error. Kinds travel
// verbatim to the caller; the HTTP layer maps them to status codes.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindConflict           Kind = "conflict"
	KindPermissionDenied   Kind = "permission_denied"
	KindContention         Kind = "contention"
	KindInvalidAccountType Kind = "invalid_account_type"
	KindInvalidOperation   Kind = "invalid_operation"
	KindSameAccount        Kind = "same_account"
	KindNotEditable        Kind = "not_editable"
	KindNoOp               Kind = "no_op"
)

// Error is a business error with a stable kind and human-readable
// detail. Two Errors match under errors.Is when their kinds match, so
// callers can branch on sentinel values like ErrInsufficientFunds
// without caring about the message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches on kind only.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Errf builds an Error with a formatted message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is checks.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
	ErrContention         = &Error{Kind: KindContention}
	ErrInvalidAccountType = &Error{Kind: KindInvalidAccountType}
	ErrInvalidOperation   = &Error{Kind: KindInvalidOperation}
	ErrSameAccount        = &Error{Kind: KindSameAccount}
	ErrNotEditable        = &Error{Kind: KindNotEditable}
	ErrNoOp               = &Error{Kind: KindNoOp}
)

// KindOf extracts the kind from err, or an empty kind for non-ledger
// errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the error is safe to retry locally. Only
// lock contention qualifies; every other kind needs caller input.
func Retryable(err error) bool {
	return KindOf(err) == KindContention
}
