// Package promobserver exports pipeline and refresh events as Prometheus
// metrics.
package promobserver

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aponysus/reauth/observe"
)

const namespace = "reauth"

// Observer implements observe.Observer with Prometheus collectors.
type Observer struct {
	attempts  *prometheus.CounterVec
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	refreshes *prometheus.CounterVec
	waiters   prometheus.Histogram
	budget    *prometheus.CounterVec
}

var _ observe.Observer = (*Observer)(nil)

// New creates an Observer and registers its collectors on reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Request attempts by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completed requests by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration including retries and refresh waits.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Settled credential refresh cycles by result.",
		}, []string{"result"}),
		waiters: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_waiters",
			Help:      "Callers released per refresh cycle.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		budget: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_budget_decisions_total",
			Help:      "Retry budget checks by decision.",
		}, []string{"decision"}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{o.attempts, o.requests, o.duration, o.refreshes, o.waiters, o.budget} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// MustNew is like New but panics if registration fails.
func MustNew(reg prometheus.Registerer) *Observer {
	o, err := New(reg)
	if err != nil {
		panic(err)
	}
	return o
}

func (o *Observer) OnStart(context.Context, observe.RequestInfo) {}

func (o *Observer) OnAttempt(_ context.Context, _ observe.RequestInfo, rec observe.AttemptRecord) {
	o.attempts.WithLabelValues(rec.Outcome.Kind.String()).Inc()
}

func (o *Observer) OnBudgetDecision(_ context.Context, ev observe.BudgetDecisionEvent) {
	decision := "denied"
	if ev.Allowed {
		decision = "allowed"
	}
	o.budget.WithLabelValues(decision).Inc()
}

func (o *Observer) OnRefresh(_ context.Context, ev observe.RefreshEvent) {
	result := "success"
	if !ev.Succeeded() {
		result = "failure"
	}
	o.refreshes.WithLabelValues(result).Inc()
	o.waiters.Observe(float64(ev.Waiters))
}

func (o *Observer) OnSuccess(_ context.Context, _ observe.RequestInfo, tl observe.Timeline) {
	o.finish("success", tl)
}

func (o *Observer) OnFailure(_ context.Context, _ observe.RequestInfo, tl observe.Timeline) {
	o.finish("failure", tl)
}

func (o *Observer) finish(result string, tl observe.Timeline) {
	o.requests.WithLabelValues(result).Inc()
	if !tl.Start.IsZero() && !tl.End.Before(tl.Start) {
		o.duration.WithLabelValues(result).Observe(tl.End.Sub(tl.Start).Seconds())
	}
}
