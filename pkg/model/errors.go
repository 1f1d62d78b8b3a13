package model

import "fmt"

// Error kinds mirror the taxonomy every component reports against: each
// is a distinct Go type so callers can type-assert or errors.As, the way
// the rest of the stack reports domain errors.

type ErrValidation struct{ message string }

func (e *ErrValidation) Error() string { return e.message }

func NewErrValidation(format string, args ...interface{}) error {
	return &ErrValidation{message: fmt.Sprintf(format, args...)}
}

type ErrAbstractSchema struct{ schema string }

func (e *ErrAbstractSchema) Error() string {
	return fmt.Sprintf("schema %q is abstract and cannot be written", e.schema)
}

func NewErrAbstractSchema(schema string) error {
	return &ErrAbstractSchema{schema: schema}
}

type ErrAuth struct{ message string }

func (e *ErrAuth) Error() string { return e.message }

func NewErrAuth(message string) error {
	return &ErrAuth{message: message}
}

type ErrUsage struct{ message string }

func (e *ErrUsage) Error() string { return e.message }

func NewErrUsage(format string, args ...interface{}) error {
	return &ErrUsage{message: fmt.Sprintf(format, args...)}
}

type ErrNotFound struct{ message string }

func (e *ErrNotFound) Error() string { return e.message }

func NewErrNotFound(kind, field string, value interface{}) error {
	return &ErrNotFound{message: fmt.Sprintf("%s with %s %v not found", kind, field, value)}
}

type ErrBackend struct {
	message string
	// Transient marks a 5xx/timeout/connection error eligible for retry,
	// as opposed to a permanent request-shape rejection (4xx).
	Transient bool
}

func (e *ErrBackend) Error() string { return e.message }

func NewErrBackend(transient bool, format string, args ...interface{}) error {
	return &ErrBackend{message: fmt.Sprintf(format, args...), Transient: transient}
}

func IsValidationError(err error) bool {
	_, ok := err.(*ErrValidation)
	return ok
}

func IsAbstractSchemaError(err error) bool {
	_, ok := err.(*ErrAbstractSchema)
	return ok
}

func IsAuthError(err error) bool {
	_, ok := err.(*ErrAuth)
	return ok
}

func IsUsageError(err error) bool {
	_, ok := err.(*ErrUsage)
	return ok
}

func IsNotFoundError(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

func IsBackendError(err error) bool {
	_, ok := err.(*ErrBackend)
	return ok
}

// IsTransientBackendError reports whether err is a backend error eligible
// for retry with backoff.
func IsTransientBackendError(err error) bool {
	be, ok := err.(*ErrBackend)
	return ok && be.Transient
}
