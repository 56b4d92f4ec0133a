package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error kinds reported in ExecutionResult.ErrorKind.
const (
	KindToolNotFound       = "ToolNotFound"
	KindToolExecutionError = "ToolExecutionError"
	KindNotImplemented     = "NotImplemented"
	KindTimeout            = "Timeout"
	KindPanic              = "Panic"
	KindCanceled           = "Canceled"
)

var (
	// ErrInvalidRegistration is returned when a descriptor or constructor is unusable.
	ErrInvalidRegistration = errors.New("invalid tool registration")

	// ErrNotImplemented is returned by tools or operations that have no implementation.
	ErrNotImplemented = errors.New("not implemented")
)

// ExecutionError reports a failure inside a tool's own operation: bad parameters,
// a missing file, a failed network call.
type ExecutionError struct {
	Msg string
	Err error
}

// Errorf builds an ExecutionError with a formatted message. A trailing %w verb
// keeps the cause reachable through errors.Unwrap.
func Errorf(format string, args ...any) *ExecutionError {
	wrapped := fmt.Errorf(format, args...)
	return &ExecutionError{Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

func (e *ExecutionError) Error() string { return e.Msg }

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Kind() string { return KindToolExecutionError }

// TimeoutError reports a bounded operation that exceeded its deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Kind() string { return KindTimeout }

// NotImplementedf wraps ErrNotImplemented with context.
func NotImplementedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotImplemented, fmt.Sprintf(format, args...))
}

type kinder interface {
	Kind() string
}

// KindOf classifies err for the result envelope. Errors that carry a Kind()
// anywhere in their chain report it; everything else is a ToolExecutionError.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, ErrNotImplemented):
		return KindNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindToolExecutionError
}
