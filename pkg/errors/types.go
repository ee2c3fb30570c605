package errors

import (
	"errors"
)

// Is reports whether any error in err's chain matches target.
// Re-exported so callers resolve every error need through this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target's type.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsTemporary reports whether err is or wraps a TemporaryError. This is
// the signal store adapters use to mark failures worth retrying.
func IsTemporary(err error) bool {
	var e *TemporaryError
	return errors.As(err, &e)
}

// IsPermanent reports whether err is or wraps a PermanentError.
func IsPermanent(err error) bool {
	var e *PermanentError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsInvalidInput reports whether err is or wraps an InvalidInputError.
func IsInvalidInput(err error) bool {
	var e *InvalidInputError
	return errors.As(err, &e)
}
