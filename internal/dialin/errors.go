package dialin

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for a missing or malformed bean, method,
	// or user reference. Nothing is recorded.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBeanNotFound is returned when the bean lookup cannot resolve the bean.
	ErrBeanNotFound = fmt.Errorf("%w: bean not found", ErrInvalidRequest)

	// ErrNotFound is returned when a study has no matching trial.
	ErrNotFound = errors.New("not found")
)
