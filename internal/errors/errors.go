// Package errors provides stack-carrying errors for the service layers
// (configuration, HTTP) of the optimization server.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Error represents an error with context and stack trace.
type Error struct {
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The component or package where the error occurred
	Component string
	// The stack trace
	Stack []string
}

// Error implements the error interface. The format is
// "message: operation=op, component=c: cause" with empty parts omitted.
func (e *Error) Error() string {
	var ctx []string
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}
	if e.Component != "" {
		ctx = append(ctx, "component="+e.Component)
	}

	parts := make([]string, 0, 3)
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if len(ctx) > 0 {
		parts = append(parts, strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation sets the operation and returns e.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent sets the component and returns e.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// StackTrace returns the stack trace captured when e was created.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error with a message.
func New(msg string) *Error {
	return &Error{
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Errorf creates a new error with a formatted message.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
}

// Wrap returns a new error with msg whose cause is err. The stack of the
// innermost *Error in err's chain is reused so the trace points at the
// original failure. Wrap returns nil when err is nil.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	e := &Error{Err: err, Message: msg}
	var inner *Error
	if stderrors.As(err, &inner) {
		e.Stack = inner.Stack
	} else {
		e.Stack = getStackTrace()
	}
	return e
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.HasSuffix(frame.File, "internal/errors/errors.go") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}
