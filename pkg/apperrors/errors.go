package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrCredentialsKeyMismatch = errors.New("connection credentials were encrypted with a different key")

	// Validation errors: client-correctable, surfaced verbatim.
	ErrInvalidSource          = errors.New("invalid source")
	ErrDuplicateName          = errors.New("duplicate name")
	ErrUnknownColumn          = errors.New("unknown column")
	ErrUnresolvedLeftColumn   = errors.New("unresolved left column")
	ErrCyclicOrDuplicateAlias = errors.New("cyclic or duplicate alias")
	ErrEmptySelection         = errors.New("empty selection")
	ErrUnsafeIdentifier       = errors.New("unsafe identifier")

	// Resolution errors: a stored model can stop resolving when the
	// warehouse schema drifts underneath it.
	ErrUnresolvedJoinPlan = errors.New("unresolved join plan")
)

// PreviewExecutionError wraps a query-runner failure. Reason carries the
// underlying database or transport message so callers can distinguish "your
// selection is invalid" from "the warehouse rejected this query".
type PreviewExecutionError struct {
	Reason string
}

func (e *PreviewExecutionError) Error() string {
	return fmt.Sprintf("preview execution failed: %s", e.Reason)
}

// NewPreviewExecutionError builds a PreviewExecutionError from a runner error.
func NewPreviewExecutionError(reason string) *PreviewExecutionError {
	return &PreviewExecutionError{Reason: reason}
}

// IsValidation reports whether err belongs to the client-correctable
// validation taxonomy.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSource) ||
		errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrUnknownColumn) ||
		errors.Is(err, ErrUnresolvedLeftColumn) ||
		errors.Is(err, ErrCyclicOrDuplicateAlias) ||
		errors.Is(err, ErrEmptySelection) ||
		errors.Is(err, ErrUnsafeIdentifier)
}
