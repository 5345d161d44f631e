package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the ingestion pipeline, the comparison
// orchestrator and the HTTP layer. Wrap with fmt.Errorf("%w: ...").
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrTransientStore      = errors.New("store unavailable")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Stable, caller-facing error codes.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// ErrorCode maps err onto one of the Code* constants. Anything outside the
// taxonomy is reported as internal.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrTransientStore):
		return CodeStoreUnavailable
	case errors.Is(err, ErrProviderUnavailable):
		return CodeProviderUnavailable
	default:
		return CodeInternal
	}
}

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError tags a failed store call as transient-store so callers can
// tell it apart from bad input.
func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransientStore, op, err)
}
