package pipeline

import (
	"errors"
	"fmt"

	"github.com/aponysus/reauth/classify"
	"github.com/aponysus/reauth/refresh"
)

// Reason is the terminal failure class of a request.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonUnauthorized
	ReasonServerError
	ReasonClientError
	ReasonNetworkError
	ReasonRefreshFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonServerError:
		return "server_error"
	case ReasonClientError:
		return "client_error"
	case ReasonNetworkError:
		return "network_error"
	case ReasonRefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

var (
	ErrUnauthorized = errors.New("reauth: unauthorized")
	ErrServerError  = errors.New("reauth: server error")
	ErrClientError  = errors.New("reauth: client error")
	ErrNetworkError = errors.New("reauth: network error")

	// ErrRefreshFailed is shared with the refresh package, so both packages'
	// errors match it.
	ErrRefreshFailed = refresh.ErrRefreshFailed
)

// Error is returned for every terminal failure other than cancellation of the
// caller's context.
type Error struct {
	Reason Reason
	// Status is the HTTP status of the last response, or 0.
	Status int
	// Attempts counts sends, including the replay after a refresh.
	Attempts int
	// Detail is the policy or budget reason for stopping.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("reauth: request failed: %s", e.Reason)
	if e.Status > 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Reason == ReasonUnauthorized
	case ErrServerError:
		return e.Reason == ReasonServerError
	case ErrClientError:
		return e.Reason == ReasonClientError
	case ErrNetworkError:
		return e.Reason == ReasonNetworkError
	case ErrRefreshFailed:
		return e.Reason == ReasonRefreshFailed
	default:
		return false
	}
}

func reasonFor(kind classify.OutcomeKind) Reason {
	switch kind {
	case classify.OutcomeUnauthorized:
		return ReasonUnauthorized
	case classify.OutcomeServerError:
		return ReasonServerError
	case classify.OutcomeClientError:
		return ReasonClientError
	default:
		return ReasonNetworkError
	}
}

func terminalError(out classify.Outcome, attempts int, detail string) *Error {
	return &Error{
		Reason:   reasonFor(out.Kind),
		Status:   out.Status,
		Attempts: attempts,
		Detail:   detail,
		Err:      out.Err,
	}
}
