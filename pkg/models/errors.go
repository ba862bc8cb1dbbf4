package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by keyed store lookups that matched nothing
var ErrNotFound = errors.New("not found")

// InputError marks malformed or unsupported input. It is always fatal to the
// call that received the input and is never retried.
type InputError struct {
	Msg string
	Err error
}

func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid input: %s: %v", e.Msg, e.Err)
	}
	return "invalid input: " + e.Msg
}

func (e *InputError) Unwrap() error { return e.Err }

// NewInputError wraps err as an InputError with a message
func NewInputError(msg string, err error) error {
	return &InputError{Msg: msg, Err: err}
}

// IsInputError reports whether err is an InputError
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// DependencyError marks an unreachable or failing external store or boundary.
// Callers recover locally where the contract allows (degraded vectors,
// placeholder metadata); otherwise the document is left partial_failure.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// NewDependencyError wraps err as a DependencyError for the named dependency
func NewDependencyError(dependency string, err error) error {
	return &DependencyError{Dependency: dependency, Err: err}
}

// IsDependencyError reports whether err is a DependencyError
func IsDependencyError(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}

// ConsistencyError marks a violated invariant (dimension mismatch, mismatched
// id/vector list lengths). Always fatal, never silently coerced.
type ConsistencyError struct {
	Msg string
}

func (e *ConsistencyError) Error() string { return "consistency violation: " + e.Msg }

// NewConsistencyError builds a ConsistencyError from a format string
func NewConsistencyError(format string, args ...any) error {
	return &ConsistencyError{Msg: fmt.Sprintf(format, args...)}
}

// IsConsistencyError reports whether err is a ConsistencyError
func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
