package optimization

import "fmt"

// ErrorKind classifies optimization errors so callers can branch on them
// with errors.Is against the sentinel values below.
type ErrorKind int

const (
	// KindUnknown is the zero kind used by errors that were not classified.
	KindUnknown ErrorKind = iota
	// KindNotFound reports an unknown context id.
	KindNotFound
	// KindInvalidState reports an operation attempted in the wrong lifecycle state.
	KindInvalidState
	// KindSingularMatrix reports a near-zero pivot during Hessian inversion.
	KindSingularMatrix
	// KindObjectiveFunction wraps anything raised by a caller-supplied objective.
	KindObjectiveFunction
	// KindInvalidConfig reports a structurally invalid configuration.
	KindInvalidConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindInvalidState:
		return "InvalidState"
	case KindSingularMatrix:
		return "SingularMatrix"
	case KindObjectiveFunction:
		return "ObjectiveFunctionError"
	case KindInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "optimization context not found"}
	ErrInvalidState      = &Error{Kind: KindInvalidState, Message: "invalid context state"}
	ErrSingularMatrix    = &Error{Kind: KindSingularMatrix, Message: "singular matrix"}
	ErrObjectiveFunction = &Error{Kind: KindObjectiveFunction, Message: "objective function failed"}
	ErrInvalidConfig     = &Error{Kind: KindInvalidConfig, Message: "invalid configuration"}
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind classifies the error.
	Kind ErrorKind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if e.Kind != KindUnknown {
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same non-zero kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind != KindUnknown && e.Kind == t.Kind
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// NewErrorf creates a new optimization error with a formatted message.
func NewErrorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// The kind of a wrapped *Error is preserved unless kind is non-zero.
// If err is nil, WrapError returns nil.
func WrapError(err error, kind ErrorKind, message string) *Error {
	if err == nil {
		return nil
	}
	if kind == KindUnknown {
		if inner, ok := IsOptimizationError(err); ok {
			kind = inner.Kind
		}
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, kind ErrorKind, format string, args ...interface{}) *Error {
	return WrapError(err, kind, fmt.Sprintf(format, args...))
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind != KindUnknown {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindUnknown
		}
		err = u.Unwrap()
	}
	return KindUnknown
}
