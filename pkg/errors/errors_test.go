package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuireError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *QuireError
		expected string
	}{
		{
			name: "error without cause",
			err: &QuireError{
				Code:    CodeQueryFailed,
				Message: "bad statement",
			},
			expected: "QUERY_FAILED: bad statement",
		},
		{
			name: "error with cause",
			err: &QuireError{
				Code:    CodeChannelFault,
				Message: "backend channel died",
				Cause:   fmt.Errorf("worker panic"),
			},
			expected: "CHANNEL_FAULT: backend channel died (caused by: worker panic)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestQuireError_UnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(cause, CodeChannelFault, "boom")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, ErrChannelFault))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrDisposed))

	wrapped := fmt.Errorf("run: %w", err)
	assert.True(t, errors.Is(wrapped, ErrChannelFault))
	assert.False(t, err.Is(fmt.Errorf("standard error")))
}

func TestQuireError_WithDetail(t *testing.T) {
	err := New(CodeInvalidRequest, "invalid input").
		WithDetail("field", "session").
		WithDetail("value", 123)

	assert.Equal(t, "session", err.Details["field"])
	assert.Equal(t, 123, err.Details["value"])
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "message"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "message %d", 42))

	err := Wrapf(fmt.Errorf("x"), CodeQueryFailed, "statement %d failed", 2)
	assert.Equal(t, "statement 2 failed", err.Message)
}

func TestFault(t *testing.T) {
	err := Fault(fmt.Errorf("panic: nil map"), 3)

	assert.True(t, IsFault(err))
	assert.True(t, IsTerminal(err))
	assert.Equal(t, uint64(3), err.Details["generation"])
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fault    bool
		terminal bool
		closed   bool
	}{
		{name: "fault", err: ErrChannelFault, fault: true, terminal: true},
		{name: "terminated", err: ErrTerminated, terminal: true},
		{name: "disposed", err: fmt.Errorf("run: %w", ErrDisposed), terminal: true},
		{name: "registry closed", err: ErrRegistryClosed, closed: true},
		{name: "query failed", err: New(CodeQueryFailed, "syntax")},
		{name: "standard error", err: fmt.Errorf("standard error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fault, IsFault(tt.err))
			assert.Equal(t, tt.terminal, IsTerminal(tt.err))
			assert.Equal(t, tt.closed, IsRegistryClosed(tt.err))
		})
	}
}

func TestGetCodeAndMessage(t *testing.T) {
	assert.Equal(t, CodeDisposed, GetCode(ErrDisposed))
	assert.Equal(t, CodeInternal, GetCode(fmt.Errorf("standard error")))

	assert.Equal(t, "instance disposed", GetMessage(ErrDisposed))
	assert.Equal(t, "standard error", GetMessage(fmt.Errorf("standard error")))
	assert.Equal(t, "statement failed: Parser Error", GetMessage(Wrap(fmt.Errorf("Parser Error"), CodeQueryFailed, "statement failed")))
}
