package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/treasurydesk/backend/internal/ledger"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Kind    string            `json:"kind,omitempty"`    // Stable error kind
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var vErrs validator.ValidationErrors
	if validationErr != nil && errors.As(validationErr, &vErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range vErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendLedgerError maps a ledger error kind to an HTTP status and
// surfaces the kind and detail verbatim.
func SendLedgerError(w http.ResponseWriter, err error) {
	kind := ledger.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case ledger.KindValidation, ledger.KindInvalidOperation, ledger.KindInvalidAccountType,
		ledger.KindSameAccount, ledger.KindNoOp:
		status = http.StatusBadRequest
	case ledger.KindPermissionDenied:
		status = http.StatusForbidden
	case ledger.KindNotFound:
		status = http.StatusNotFound
	case ledger.KindConflict, ledger.KindInsufficientFunds, ledger.KindNotEditable:
		status = http.StatusConflict
	case ledger.KindContention:
		// Lock wait expired; safe for the client to retry with backoff.
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Kind: string(kind)})
}
