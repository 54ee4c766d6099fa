// Package otelobserver records pipeline requests and refresh cycles as
// OpenTelemetry spans.
package otelobserver

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aponysus/reauth/observe"
)

const instrumentationName = "github.com/aponysus/reauth"

// Observer opens one span per request, adds an event per attempt and records
// each refresh cycle as its own span.
type Observer struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

var _ observe.Observer = (*Observer)(nil)

// New returns an Observer using tp, or the global TracerProvider if tp is nil.
func New(tp trace.TracerProvider) *Observer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Observer{
		tracer: tp.Tracer(instrumentationName),
		spans:  make(map[string]trace.Span),
	}
}

func (o *Observer) OnStart(ctx context.Context, req observe.RequestInfo) {
	_, span := o.tracer.Start(ctx, "reauth.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("reauth.request_id", req.ID),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
		),
	)
	o.mu.Lock()
	o.spans[req.ID] = span
	o.mu.Unlock()
}

func (o *Observer) span(id string) trace.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spans[id]
}

func (o *Observer) take(id string) trace.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	span := o.spans[id]
	delete(o.spans, id)
	return span
}

func (o *Observer) OnAttempt(_ context.Context, req observe.RequestInfo, rec observe.AttemptRecord) {
	span := o.span(req.ID)
	if span == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Int("reauth.attempt", rec.Attempt),
		attribute.String("reauth.outcome", rec.Outcome.Kind.String()),
		attribute.String("reauth.reason", rec.Outcome.Reason),
		attribute.Bool("reauth.refreshed", rec.Refreshed),
		attribute.Int64("reauth.backoff_ms", rec.Backoff.Milliseconds()),
	}
	if rec.Outcome.Status > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", rec.Outcome.Status))
	}
	opts := []trace.EventOption{trace.WithAttributes(attrs...)}
	if !rec.EndTime.IsZero() {
		opts = append(opts, trace.WithTimestamp(rec.EndTime))
	}
	span.AddEvent("attempt", opts...)
}

func (o *Observer) OnBudgetDecision(_ context.Context, ev observe.BudgetDecisionEvent) {
	span := o.span(ev.Request.ID)
	if span == nil {
		return
	}
	span.AddEvent("retry_budget", trace.WithAttributes(
		attribute.Int("reauth.retry", ev.Retry),
		attribute.Bool("reauth.allowed", ev.Allowed),
		attribute.String("reauth.reason", ev.Reason),
	))
}

func (o *Observer) OnRefresh(ctx context.Context, ev observe.RefreshEvent) {
	startOpts := []trace.SpanStartOption{
		trace.WithAttributes(
			attribute.Int64("reauth.refresh_cycle", int64(ev.Cycle)),
			attribute.Int("reauth.refresh_waiters", ev.Waiters),
		),
	}
	if !ev.Start.IsZero() {
		startOpts = append(startOpts, trace.WithTimestamp(ev.Start))
	}
	_, span := o.tracer.Start(ctx, "reauth.refresh", startOpts...)
	if ev.Err != nil {
		span.RecordError(ev.Err)
		span.SetStatus(codes.Error, "refresh failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if !ev.End.IsZero() {
		span.End(trace.WithTimestamp(ev.End))
		return
	}
	span.End()
}

func (o *Observer) OnSuccess(_ context.Context, req observe.RequestInfo, tl observe.Timeline) {
	span := o.take(req.ID)
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int("reauth.attempts", len(tl.Attempts)))
	span.SetStatus(codes.Ok, "")
	span.End()
}

func (o *Observer) OnFailure(_ context.Context, req observe.RequestInfo, tl observe.Timeline) {
	span := o.take(req.ID)
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("reauth.attempts", len(tl.Attempts)),
		attribute.String("reauth.final_reason", tl.Attributes["final_reason"]),
	)
	if tl.FinalErr != nil {
		span.RecordError(tl.FinalErr)
		span.SetStatus(codes.Error, tl.FinalErr.Error())
	} else {
		span.SetStatus(codes.Error, "request failed")
	}
	span.End()
}
