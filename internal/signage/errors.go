package signage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for a malformed store id, side, file name
	// or request body.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a store, file or metadata record is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when creating a store whose id already exists.
	ErrConflict = errors.New("conflict")

	// ErrUpstream wraps a failed object store or status store call. The
	// underlying error is kept in the chain and in the message.
	ErrUpstream = errors.New("upstream failure")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}
