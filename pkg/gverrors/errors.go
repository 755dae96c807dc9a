// Package gverrors defines the typed error values returned across the
// GigaVector package boundary.
package gverrors

import (
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode classifies the failure so callers can branch on it without
// string matching.
type ErrorCode string

const (
	// BadArgument means a caller supplied an invalid argument (wrong
	// dimension, empty id, malformed filter expression, ...).
	BadArgument ErrorCode = "BAD_ARGUMENT"
	// NotFound means the referenced row, subscriber, or snapshot does not
	// exist, or is no longer visible to the caller.
	NotFound ErrorCode = "NOT_FOUND"
	// ConditionFailed means a conditional write's predicate did not hold.
	ConditionFailed ErrorCode = "CONDITION_FAILED"
	// WriteConflict means a concurrent writer invalidated the operation
	// under snapshot isolation.
	WriteConflict ErrorCode = "WRITE_CONFLICT"
	// Untrained means an index operation that requires a trained
	// quantizer (IVFPQ/PQ) was invoked before training completed.
	Untrained ErrorCode = "UNTRAINED"
	// Exhausted means a fixed-capacity structure (an LSH bucket, the MVCC
	// active-transaction table) has no room left for the requested write.
	Exhausted ErrorCode = "EXHAUSTED"
	// Io wraps a failure from the underlying filesystem.
	Io ErrorCode = "IO"
	// Corrupted means on-disk data failed a checksum or format check.
	Corrupted ErrorCode = "CORRUPTED"
)

// Error is the concrete error type returned by every package in this
// module. It carries a classification code, an optional wrapped cause,
// and the stack at the point it was created.
type Error struct {
	Code    ErrorCode
	Message string
	Stack   []string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// StackTrace returns the call stack captured when the error was created.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStackTrace(),
	}
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a code and message to an existing error, preserving the
// original stack if the cause is itself an *Error.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	if gvErr, ok := err.(*Error); ok {
		return &Error{
			Code:    code,
			Message: message,
			Stack:   gvErr.Stack,
			Cause:   gvErr,
		}
	}

	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStackTrace(),
		Cause:   err,
	}
}

func captureStackTrace() []string {
	pc := make([]uintptr, 32)
	n := runtime.Callers(3, pc)
	if n == 0 {
		return []string{}
	}

	frames := runtime.CallersFrames(pc[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !more {
			break
		}

		fn := frame.Function
		file := frame.File
		line := frame.Line

		if idx := strings.LastIndex(file, "/"); idx != -1 {
			file = file[idx+1:]
		}
		if idx := strings.LastIndex(fn, "/"); idx != -1 {
			fn = fn[idx+1:]
		}

		stack = append(stack, fmt.Sprintf("  at %s (%s:%d)", fn, file, line))
	}

	return stack
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	if gvErr, ok := err.(*Error); ok {
		return gvErr.Code == code
	}
	return false
}

// Code returns the ErrorCode carried by err, or "" if err is not an
// *Error.
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if gvErr, ok := err.(*Error); ok {
		return gvErr.Code
	}
	return ""
}
