package refresh

import (
	"errors"
	"fmt"
)

var (
	// ErrRefreshFailed matches every *Error via errors.Is.
	ErrRefreshFailed = errors.New("reauth: credential refresh failed")

	// ErrEmptyCredential is returned when an Invoker reports success without a
	// credential.
	ErrEmptyCredential = errors.New("reauth: refresh returned an empty credential")

	// ErrNoInvoker is the cause of a cycle run by a Coordinator without an Invoker.
	ErrNoInvoker = errors.New("reauth: no refresh invoker configured")
)

// Error is the result delivered to every waiter of a failed refresh cycle.
type Error struct {
	Cycle uint64
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reauth: credential refresh failed (cycle %d): %v", e.Cycle, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrRefreshFailed
}

// PanicError reports a panic recovered from an Invoker.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("reauth: panic in refresh invoker: %v", e.Value)
}

// StatusError is returned by HTTPInvoker for non-2xx responses. It implements
// classify.HTTPError.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("refresh endpoint returned status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("refresh endpoint returned status %d", e.Code)
}

func (e *StatusError) HTTPStatusCode() int { return e.Code }
