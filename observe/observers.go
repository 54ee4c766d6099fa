package observe

import "context"

// BaseObserver implements Observer with no-op methods.
//
// Users can embed BaseObserver to implement only the callbacks they need.
type BaseObserver struct{}

func (BaseObserver) OnStart(context.Context, RequestInfo)                  {}
func (BaseObserver) OnAttempt(context.Context, RequestInfo, AttemptRecord) {}
func (BaseObserver) OnBudgetDecision(context.Context, BudgetDecisionEvent) {}
func (BaseObserver) OnRefresh(context.Context, RefreshEvent)               {}
func (BaseObserver) OnSuccess(context.Context, RequestInfo, Timeline)      {}
func (BaseObserver) OnFailure(context.Context, RequestInfo, Timeline)      {}

// MultiObserver fans out events to multiple observers.
type MultiObserver struct {
	Observers []Observer
}

func (m MultiObserver) OnStart(ctx context.Context, req RequestInfo) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnStart(ctx, req)
		}
	}
}

func (m MultiObserver) OnAttempt(ctx context.Context, req RequestInfo, rec AttemptRecord) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnAttempt(ctx, req, rec)
		}
	}
}

func (m MultiObserver) OnBudgetDecision(ctx context.Context, ev BudgetDecisionEvent) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnBudgetDecision(ctx, ev)
		}
	}
}

func (m MultiObserver) OnRefresh(ctx context.Context, ev RefreshEvent) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnRefresh(ctx, ev)
		}
	}
}

func (m MultiObserver) OnSuccess(ctx context.Context, req RequestInfo, tl Timeline) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnSuccess(ctx, req, tl)
		}
	}
}

func (m MultiObserver) OnFailure(ctx context.Context, req RequestInfo, tl Timeline) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnFailure(ctx, req, tl)
		}
	}
}
