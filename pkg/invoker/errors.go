package invoker

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an invocation failure.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindUnreachable     Kind = "unreachable"
	KindExecutionFailed Kind = "execution_failed"
	KindTimeout         Kind = "timeout"
)

var (
	ErrNotFound        = errors.New("target not found")
	ErrUnreachable     = errors.New("target unreachable")
	ErrExecutionFailed = errors.New("execution failed")
	ErrTimeout         = errors.New("invocation timed out")
)

// InvocationError is returned by every invoker.
type InvocationError struct {
	Kind   Kind
	Name   string
	Detail string
	Err    error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("invoke %s: %s", e.Name, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Is matches the kind sentinels so errors.Is(err, ErrTimeout) works.
func (e *InvocationError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrExecutionFailed:
		return e.Kind == KindExecutionFailed
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// NewError builds an InvocationError. Deadline errors are reported as
// timeouts regardless of kind.
func NewError(kind Kind, name string, err error, detail string) *InvocationError {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &InvocationError{Kind: kind, Name: name, Detail: detail, Err: err}
}

// KindOf returns the kind of an InvocationError in err's chain, or "".
func KindOf(err error) Kind {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}
