package record

import (
	"errors"
	"fmt"
)

// DecodeError reports a payload that could not be decoded: malformed JSON,
// an unsupported field type, or an identifier of the wrong shape.
type DecodeError struct {
	// Field is the offending field name, empty for whole-payload errors.
	Field string
	// Reason is a human-readable description.
	Reason string
	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = fmt.Sprintf("field %q: %s", e.Field, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", msg, e.Err)
	}
	return "decode: " + msg
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError returns true if err is or wraps a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
