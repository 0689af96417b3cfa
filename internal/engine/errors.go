package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Run when the engine is already running.
var ErrAlreadyRunning = errors.New("engine: already running")

// RuntimeError represents a failure detected while the engine works.
//
// Runtime errors include:
//   - Retry exhausted: an operation kept asking for retries past the budget
//   - Subscription failed: the subscription could not be created
//   - Settings failure: sync state could not be read or written
//
// RuntimeError includes structured fields for diagnostics. The engine
// logs these rather than returning them: every public operation is fire
// and forget.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RecordType identifies the affected engine.
	RecordType string

	// Op is the remote or settings operation involved.
	Op string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeRetryExhausted indicates MaxRetryAttempts was reached.
	ErrCodeRetryExhausted RuntimeErrorCode = "RETRY_EXHAUSTED"

	// ErrCodeSubscriptionFailed indicates a non-retryable create failure.
	ErrCodeSubscriptionFailed RuntimeErrorCode = "SUBSCRIPTION_FAILED"

	// ErrCodeSettings indicates the settings store failed.
	ErrCodeSettings RuntimeErrorCode = "SETTINGS_FAILURE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RecordType != "" && e.Op != "" {
		msg = fmt.Sprintf("%s (record_type=%s, op=%s)", msg, e.RecordType, e.Op)
	} else if e.Op != "" {
		msg = fmt.Sprintf("%s (op=%s)", msg, e.Op)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

// IsRetryExhausted returns true if err is a retry-budget error.
// Uses errors.As to handle wrapped errors.
func IsRetryExhausted(err error) bool {
	return hasCode(err, ErrCodeRetryExhausted)
}

// IsSubscriptionFailed returns true if err is a subscription creation error.
func IsSubscriptionFailed(err error) bool {
	return hasCode(err, ErrCodeSubscriptionFailed)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewRetryExhaustedError creates a RuntimeError for an exhausted retry chain.
func NewRetryExhaustedError(recordType, op string, attempts int, cause error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeRetryExhausted,
		Message:    fmt.Sprintf("gave up after %d retries", attempts),
		RecordType: recordType,
		Op:         op,
		Err:        cause,
	}
}

// NewSubscriptionError creates a RuntimeError for a failed create.
func NewSubscriptionError(recordType string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeSubscriptionFailed,
		Message:    "subscription could not be created",
		RecordType: recordType,
		Op:         "create-subscription",
		Err:        cause,
	}
}

// NewSettingsError creates a RuntimeError for a settings failure.
func NewSettingsError(recordType, op string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeSettings,
		Message:    "sync state unavailable",
		RecordType: recordType,
		Op:         op,
		Err:        cause,
	}
}
