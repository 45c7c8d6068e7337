package core

import (
	"errors"
	"fmt"
)

// ErrDuplicateMessage signals that a platform message id has already been
// processed (or is being processed right now). It is not a failure: the
// delivery is acknowledged and no side effects re-run.
var ErrDuplicateMessage = errors.New("duplicate message")

// TransientError wraps a failure worth retrying: network or timeout on
// engine, store or payment calls, lock acquisition timeouts. Transient
// errors ride the nack / backoff redelivery path, bounded by attempt limits.
type TransientError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for operation op.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ValidationError reports bad tool arguments or an invalid commerce request
// (e.g. an empty-cart order attempt). Not user-fatal: it is surfaced to the
// reasoning engine as a tool-result error so it can retry with corrected
// arguments within the iteration cap.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Validation builds a ValidationError with a plain message.
func Validation(message string) error { return &ValidationError{Message: message} }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ResourceError reports a reference to an unknown entity (product, order).
// Treated like ValidationError: round-tripped to the reasoning engine as a
// recoverable tool-result error.
type ResourceError struct {
	Resource string // "product", "order", ...
	ID       string
}

// Error implements the error interface.
func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound builds a ResourceError for the given resource kind and id.
func NotFound(resource, id string) error { return &ResourceError{Resource: resource, ID: id} }

// IsNotFound reports whether err is (or wraps) a ResourceError.
func IsNotFound(err error) bool {
	var re *ResourceError
	return errors.As(err, &re)
}

// FatalError marks an unrecoverable processing failure (durable-store
// corruption, lock-timeout exhaustion). The envelope is dead-lettered, the
// sender receives a generic apology and an operator-visible alert is logged.
type FatalError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal failure in %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError for operation op.
func Fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
