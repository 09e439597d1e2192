// Package chaterr defines the error kinds shared by the session, broker,
// buffer and history layers. Callers inspect them with errors.As and decide
// the user-visible response (redirect, 401, 400, 500, or a silent drop).
package chaterr

import "fmt"

// AuthError reports a missing, malformed, or expired session. It is terminal
// for the request or connection that produced it.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// ValidationError reports a malformed room or message payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid payload: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps a failed call to the storage collaborator.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Auth returns an AuthError with the given reason.
func Auth(reason string) error {
	return &AuthError{Reason: reason}
}

// Invalid returns a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Storage wraps err as a StorageError for op. A nil err yields nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
