package remote

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("remote: record not found")

// TransportError is a classified failure of a remote call.
//
// RetryAfter is the server-supplied backoff hint. A zero RetryAfter means the
// server gave no hint and the failure is not retryable.
type TransportError struct {
	// Op names the failed call, e.g. "create-subscription".
	Op string
	// RetryAfter is the delay the server asked for before retrying.
	RetryAfter time.Duration
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %v (retry after %s)", e.Op, e.Err, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the server supplied a retry hint.
func (e *TransportError) Retryable() bool { return e.RetryAfter > 0 }

// RetryHint extracts the retry-after hint from err.
// Returns false if err is not a retryable *TransportError.
func RetryHint(err error) (time.Duration, bool) {
	var te *TransportError
	if errors.As(err, &te) && te.Retryable() {
		return te.RetryAfter, true
	}
	return 0, false
}

// Retry constructs a retryable TransportError.
func Retry(op string, after time.Duration, err error) *TransportError {
	return &TransportError{Op: op, RetryAfter: after, Err: err}
}

// Fatal constructs a non-retryable TransportError.
func Fatal(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}
