// Package errors provides standardized error types for the quire supervisor.
package errors

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeQueryFailed    = "QUERY_FAILED"
	CodeChannelFault   = "CHANNEL_FAULT"
	CodeTerminated     = "TERMINATED"
	CodeDisposed       = "DISPOSED"
	CodeRegistryClosed = "REGISTRY_CLOSED"
	CodeUnavailable    = "UNAVAILABLE"
	CodeNotReady       = "NOT_READY"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInternal       = "INTERNAL_ERROR"
)

// QuireError represents an error with code, message, and optional details.
type QuireError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *QuireError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *QuireError) Unwrap() error {
	return e.Cause
}

// Is matches on code only, so sentinels compare equal to any error of the same code.
func (e *QuireError) Is(target error) bool {
	t, ok := target.(*QuireError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a single detail to the error.
func (e *QuireError) WithDetail(key string, value interface{}) *QuireError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common errors
var (
	ErrChannelFault      = &QuireError{Code: CodeChannelFault, Message: "backend channel fault"}
	ErrTerminated        = &QuireError{Code: CodeTerminated, Message: "backend channel terminated"}
	ErrDisposed          = &QuireError{Code: CodeDisposed, Message: "instance disposed"}
	ErrRegistryClosed    = &QuireError{Code: CodeRegistryClosed, Message: "instance registry closed"}
	ErrServerUnavailable = &QuireError{Code: CodeUnavailable, Message: "query server unavailable"}
	ErrNotReady          = &QuireError{Code: CodeNotReady, Message: "backend not ready"}
)

// New creates a new QuireError with the given code and message.
func New(code, message string) *QuireError {
	return &QuireError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with a QuireError.
func Wrap(err error, code, message string) *QuireError {
	if err == nil {
		return nil
	}
	return &QuireError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code, format string, args ...interface{}) *QuireError {
	if err == nil {
		return nil
	}
	return &QuireError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Fault builds a channel fault error from whatever killed the boundary.
func Fault(cause error, generation uint64) *QuireError {
	err := &QuireError{Code: CodeChannelFault, Message: "backend channel died", Cause: cause}
	return err.WithDetail("generation", generation)
}

// IsFault reports whether err is a boundary-level channel fault.
func IsFault(err error) bool {
	return hasCode(err, CodeChannelFault)
}

// IsTerminal reports whether err ended a call without an outcome: a fault,
// a terminated channel or a disposed instance.
func IsTerminal(err error) bool {
	return hasCode(err, CodeChannelFault) || hasCode(err, CodeTerminated) || hasCode(err, CodeDisposed)
}

// IsRegistryClosed reports whether err is a registry misuse after teardown.
func IsRegistryClosed(err error) bool {
	return hasCode(err, CodeRegistryClosed)
}

func hasCode(err error, code string) bool {
	var qErr *QuireError
	if errors.As(err, &qErr) {
		return qErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) string {
	var qErr *QuireError
	if errors.As(err, &qErr) {
		return qErr.Code
	}
	return CodeInternal
}

// GetMessage extracts the error message from an error.
func GetMessage(err error) string {
	var qErr *QuireError
	if errors.As(err, &qErr) {
		if qErr.Cause != nil {
			return fmt.Sprintf("%s: %v", qErr.Message, qErr.Cause)
		}
		return qErr.Message
	}
	return err.Error()
}
