package errors

import (
	"fmt"
)

// Wrap adds context to err while preserving its category, so a wrapped
// temporary error still reads as temporary to retry policies. NotFound and
// InvalidInput errors keep their resource and field details. Errors with
// no category become permanent.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}

	var (
		nfe *NotFoundError
		iie *InvalidInputError
	)
	switch {
	case IsPermanent(err):
		return NewPermanent(msg, err)
	case IsTemporary(err):
		return NewTemporary(msg, err)
	case As(err, &nfe):
		return NewNotFoundWithCause(nfe.resource, nfe.id, err)
	case As(err, &iie):
		return NewInvalidInputWithCause(iie.field, msg, err)
	default:
		return NewPermanent(msg, err)
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}
