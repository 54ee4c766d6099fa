package observe

import (
	"context"
	"time"

	"github.com/aponysus/reauth/classify"
)

// RequestInfo identifies a single pipeline call.
type RequestInfo struct {
	// ID is unique per call. It is also sent as the Idempotency-Key for
	// non-idempotent methods.
	ID     string
	Method string
	Path   string
}

// AttemptRecord describes a single send of a request.
type AttemptRecord struct {
	Attempt   int
	StartTime time.Time
	EndTime   time.Time

	Outcome classify.Outcome

	Err error

	Backoff time.Duration // backoff before this attempt

	// Refreshed is true for the replay that follows a credential refresh.
	Refreshed bool

	BudgetAllowed bool
	BudgetReason  string
}

// BudgetDecisionEvent reports a retry budget check.
type BudgetDecisionEvent struct {
	Request RequestInfo
	Retry   int
	Outcome classify.Outcome
	Allowed bool
	Reason  string
}

// RefreshEvent describes one settled refresh cycle.
//
// A cycle is shared by every request that joined it, so it carries no
// RequestInfo.
type RefreshEvent struct {
	Cycle uint64
	Start time.Time
	End   time.Time

	// Waiters is the number of callers released when the cycle settled.
	Waiters int

	Err error
}

// Succeeded reports whether the cycle produced a credential.
func (e RefreshEvent) Succeeded() bool { return e.Err == nil }

// Timeline is the structured record of a single call and all of its attempts.
type Timeline struct {
	Request RequestInfo
	Start   time.Time
	End     time.Time

	// Attributes holds call-level metadata (final reason, refresh cycle, etc.).
	Attributes map[string]string

	Attempts []AttemptRecord
	FinalErr error
}

// Observer receives lifecycle callbacks.
//
// Request-scoped hooks run on the goroutine of the call. OnRefresh runs on the
// coordinator's refresh goroutine once per cycle, before waiters are released.
type Observer interface {
	OnStart(ctx context.Context, req RequestInfo)
	OnAttempt(ctx context.Context, req RequestInfo, rec AttemptRecord)
	OnBudgetDecision(ctx context.Context, ev BudgetDecisionEvent)
	OnRefresh(ctx context.Context, ev RefreshEvent)

	OnSuccess(ctx context.Context, req RequestInfo, tl Timeline)
	OnFailure(ctx context.Context, req RequestInfo, tl Timeline)
}
