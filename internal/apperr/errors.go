// Package apperr defines the error kinds returned across the service boundary.
// Callers wrap a kind with detail via fmt.Errorf("%w: ...", kind) and match with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrAuthorization       = errors.New("not authorized")
	ErrForbiddenRevocation = errors.New("revocation forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrRateLimited         = errors.New("too many attempts")
	ErrInternal            = errors.New("internal error")
)

// Kind returns the sentinel kind wrapped by err, or ErrInternal when err carries none.
func Kind(err error) error {
	for _, k := range []error{
		ErrValidation,
		ErrAuthorization,
		ErrForbiddenRevocation,
		ErrNotFound,
		ErrConflict,
		ErrRateLimited,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// Name is the stable machine-readable name of a kind, used in API responses.
func Name(kind error) string {
	switch kind {
	case ErrValidation:
		return "validation_error"
	case ErrAuthorization:
		return "authorization_error"
	case ErrForbiddenRevocation:
		return "forbidden_revocation"
	case ErrNotFound:
		return "not_found"
	case ErrConflict:
		return "conflict"
	case ErrRateLimited:
		return "rate_limited"
	default:
		return "internal_error"
	}
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// Internal hides a storage or infrastructure failure behind ErrInternal while keeping it in the chain for logs.
func Internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
