package store

import (
	"errors"
	"fmt"
)

// Common database errors used across all components. Every failure surfaced
// by the query executor matches exactly one of these sentinels via errors.Is,
// regardless of which native driver error produced it.
var (
	// ErrConnection is returned when no connection is available or the pool
	// itself is misconfigured or unreachable.
	ErrConnection = errors.New("connection unavailable")

	// ErrQuery is returned when a statement fails to execute, including
	// syntax errors and argument count or type mismatches.
	ErrQuery = errors.New("query failed")

	// ErrDecode is returned when a returned row does not match the shape the
	// caller's scan function expects.
	ErrDecode = errors.New("row decode failed")

	// ErrTimeout is returned when the underlying driver reports that a
	// statement exceeded its deadline.
	ErrTimeout = errors.New("query timed out")

	// ErrConstraint is returned when a statement violates a database
	// constraint (unique, foreign key, check, or not-null).
	ErrConstraint = errors.New("constraint violated")
)

// QueryError carries the database's own message for a failed statement.
// It matches ErrQuery under errors.Is.
type QueryError struct {
	Message string // message reported by the database
	Err     error  // original driver error
}

// Error implements the error interface for QueryError.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %s", e.Message)
}

// Unwrap returns the original driver error.
func (e *QueryError) Unwrap() error { return e.Err }

// Is reports whether target is ErrQuery, so callers can classify with
// errors.Is without inspecting the concrete type.
func (e *QueryError) Is(target error) bool { return target == ErrQuery }

// NewQueryError creates a QueryError wrapping the given driver error.
func NewQueryError(message string, err error) *QueryError {
	return &QueryError{Message: message, Err: err}
}

// ConstraintError describes a constraint violation, carrying the violated
// constraint's name when the database reports one. It matches ErrConstraint
// under errors.Is.
type ConstraintError struct {
	Message    string // message reported by the database
	Constraint string // violated constraint name, may be empty
	Err        error  // original driver error
}

// Error implements the error interface for ConstraintError.
func (e *ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("constraint violated (%s): %s", e.Constraint, e.Message)
	}
	return fmt.Sprintf("constraint violated: %s", e.Message)
}

// Unwrap returns the original driver error.
func (e *ConstraintError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConstraint.
func (e *ConstraintError) Is(target error) bool { return target == ErrConstraint }

// NewConstraintError creates a ConstraintError for the named constraint.
func NewConstraintError(message, constraint string, err error) *ConstraintError {
	return &ConstraintError{Message: message, Constraint: constraint, Err: err}
}

// ConnectionError marks a driver failure as a connection availability
// problem. It matches ErrConnection under errors.Is.
type ConnectionError struct {
	Err error // original driver error
}

// Error implements the error interface for ConnectionError.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection unavailable: %v", e.Err)
}

// Unwrap returns the original driver error.
func (e *ConnectionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConnection.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// NewConnectionError creates a ConnectionError wrapping the driver error.
func NewConnectionError(err error) *ConnectionError {
	return &ConnectionError{Err: err}
}

// IsConnectionError checks if the error indicates an unavailable connection.
func IsConnectionError(err error) bool { return errors.Is(err, ErrConnection) }

// IsQueryError checks if the error is any kind of statement execution failure.
func IsQueryError(err error) bool { return errors.Is(err, ErrQuery) }

// IsDecodeError checks if the error is a row-shape mismatch.
func IsDecodeError(err error) bool { return errors.Is(err, ErrDecode) }

// IsTimeoutError checks if the error is a driver-reported timeout.
func IsTimeoutError(err error) bool { return errors.Is(err, ErrTimeout) }

// IsConstraintError checks if the error is a constraint violation.
func IsConstraintError(err error) bool { return errors.Is(err, ErrConstraint) }
