package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned for keys that fail validation.
	ErrInvalidKey = errors.New("invalid object key")

	// ErrInvalidPayload is returned when the upload source is missing.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNotFound is returned when the object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAlreadyExists is returned when a copy or move destination is taken.
	ErrAlreadyExists = errors.New("object already exists")

	// ErrNoHealthyProviders is returned when no provider can take the operation.
	ErrNoHealthyProviders = errors.New("no healthy storage providers")

	// ErrNoProvidersAvailable is returned when no provider could be started.
	ErrNoProvidersAvailable = errors.New("no storage providers available")
)

// BackendError wraps an I/O or network failure raised by a provider.
type BackendError struct {
	Provider string
	Op       string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// newBackendError wraps err unless it already carries a caller error.
func newBackendError(provider, op string, err error) error {
	if err == nil || IsCallerError(err) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Provider: provider, Op: op, Err: err}
}

// OperationError is returned by the Manager once the retry budget is spent.
// It carries the last underlying error only.
type OperationError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("storage %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsCallerError reports errors caused by the request itself. They are
// surfaced immediately and do not affect provider health.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
