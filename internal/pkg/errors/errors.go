package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict signals an operation rejected by current state,
	// e.g. creating a build job while one is already active.
	ErrConflict = errors.New("conflict")
)

// StatusError carries an HTTP status from a failed server call so the
// retry classifier can decide whether the call is worth repeating.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

func (e *StatusError) HTTPStatusCode() int { return e.Code }

func (e *StatusError) Is(target error) bool {
	if e.Code == 404 && target == ErrNotFound {
		return true
	}
	if e.Code == 409 && target == ErrConflict {
		return true
	}
	return false
}
