package webhook

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a payload missing a required field or carrying an
	// unacceptable value. Mapped to 400.
	ErrValidation = errors.New("invalid payload")

	// ErrNotFound marks an update that references a task which does not
	// exist. Mapped to 500 like any other handler failure.
	ErrNotFound = errors.New("task not found")

	// ErrUnknownType is returned by Dispatch for an unrouted discriminator.
	ErrUnknownType = errors.New("unknown type")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
