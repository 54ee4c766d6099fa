package observe

import "context"

// NoopObserver implements Observer with no-op methods.
type NoopObserver struct{}

func (NoopObserver) OnStart(context.Context, RequestInfo)                  {}
func (NoopObserver) OnAttempt(context.Context, RequestInfo, AttemptRecord) {}
func (NoopObserver) OnBudgetDecision(context.Context, BudgetDecisionEvent) {}
func (NoopObserver) OnRefresh(context.Context, RefreshEvent)               {}
func (NoopObserver) OnSuccess(context.Context, RequestInfo, Timeline)      {}
func (NoopObserver) OnFailure(context.Context, RequestInfo, Timeline)      {}
