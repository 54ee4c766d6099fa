package budget

import (
	"context"

	"github.com/aponysus/reauth/classify"
)

// Standard Decision.Reason strings.
const (
	ReasonAllowed       = "allowed"
	ReasonNoBudget      = "no_budget"
	ReasonBudgetNil     = "budget_nil"
	ReasonBudgetDenied  = "budget_denied"
	ReasonPanicInBudget = "panic_in_budget"
)

// Decision is the result of a budget check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Budget gates transient-failure retries across requests to prevent retry
// storms against a struggling server. It is consulted before every retry the
// policy allows; refreshes and first attempts are never gated.
//
// retry is the 1-based retry number within the request and out is the outcome
// that caused it.
type Budget interface {
	AllowRetry(ctx context.Context, retry int, out classify.Outcome) Decision
}
