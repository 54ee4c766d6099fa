package policy

import (
	"time"

	"github.com/aponysus/reauth/classify"
)

// Attempt is the per-request retry state. It is created when a request starts
// and threaded by value through each decision.
type Attempt struct {
	Method string

	NetworkRetries int
	ServerRetries  int

	// Refreshed is set once the request has been replayed after a refresh.
	Refreshed bool
}

// Retries returns the number of transient-failure retries so far.
func (a Attempt) Retries() int {
	return a.NetworkRetries + a.ServerRetries
}

// Next returns a with the retry counter for kind incremented.
func (a Attempt) Next(kind classify.OutcomeKind) Attempt {
	switch kind {
	case classify.OutcomeNetworkError:
		a.NetworkRetries++
	case classify.OutcomeServerError:
		a.ServerRetries++
	}
	return a
}

// ActionKind is what the pipeline does after a failed attempt.
type ActionKind int

const (
	ActionFail ActionKind = iota
	ActionRetryAfter
	ActionRefresh
)

func (k ActionKind) String() string {
	switch k {
	case ActionRetryAfter:
		return "retry_after"
	case ActionRefresh:
		return "refresh"
	default:
		return "fail"
	}
}

// Action is the decision returned by RetryPolicy.Decide.
type Action struct {
	Kind   ActionKind
	Delay  time.Duration
	Reason string
}
