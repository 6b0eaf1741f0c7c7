package domain

import "errors"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountNotActive  = errors.New("account not active")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRequestNotFound   = errors.New("transfer request not found")
	ErrLimitExceeded     = errors.New("transfer limit exceeded")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrVerificationRequired is returned when a request above the configured
	// threshold is submitted; the caller must complete the challenge first.
	ErrVerificationRequired = errors.New("verification required")

	// ErrConcurrencyConflict signals an optimistic retry; the orchestrator
	// retries internally with bounded backoff before surfacing it.
	ErrConcurrencyConflict = errors.New("concurrent modification, retry")
)

// ValidationError carries the field that failed request validation. It is
// always returned before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
