package fstree

import (
	"errors"
	"fmt"
)

var (
	// ErrPathNotFound is returned when a head or target path does not
	// resolve against the live tree, including paths through a file.
	ErrPathNotFound = errors.New("path not found")

	// ErrForbidden is returned by the access-control boundary when the
	// caller may not mutate the tree.
	ErrForbidden = errors.New("forbidden")
)

// OperationError reports a violated precondition or a failing collaborator.
type OperationError struct {
	Reason string
	Err    error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("operation failed: %s: %v", e.Reason, e.Err)
	}
	return "operation failed: " + e.Reason
}

func (e *OperationError) Unwrap() error { return e.Err }

// OperationFailed builds an *OperationError.
func OperationFailed(reason string, err error) error {
	return &OperationError{Reason: reason, Err: err}
}

// IsNotFound reports whether err is ErrPathNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPathNotFound)
}

// IsOperationFailed reports whether err carries an *OperationError.
func IsOperationFailed(err error) bool {
	var oe *OperationError
	return errors.As(err, &oe)
}
