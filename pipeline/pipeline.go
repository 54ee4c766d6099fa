package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aponysus/reauth/budget"
	"github.com/aponysus/reauth/classify"
	"github.com/aponysus/reauth/credential"
	"github.com/aponysus/reauth/internal"
	"github.com/aponysus/reauth/observe"
	"github.com/aponysus/reauth/policy"
	"github.com/aponysus/reauth/refresh"
)

// Pipeline sends requests through an Executor with the current credential,
// refreshing through a shared refresh.Coordinator and retrying per policy.
//
// A Pipeline is safe for concurrent use.
type Pipeline struct {
	exec      Executor
	coord     *refresh.Coordinator
	store     credential.Store
	policy    policy.RetryPolicy
	budget    budget.Budget
	observer  observe.Observer
	logger    *zap.Logger
	clock     func() time.Time
	sleep     func(context.Context, time.Duration) error
	requestID func() string
}

// New creates a Pipeline. The credential store is the coordinator's.
func New(exec Executor, coord *refresh.Coordinator, opts ...Option) *Pipeline {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return NewFromOptions(exec, coord, o)
}

// NewFromOptions creates a Pipeline from a config struct.
func NewFromOptions(exec Executor, coord *refresh.Coordinator, opts Options) *Pipeline {
	p := &Pipeline{
		exec:      exec,
		coord:     coord,
		budget:    opts.Budget,
		observer:  opts.Observer,
		logger:    opts.Logger,
		clock:     opts.Clock,
		sleep:     sleepWithContext,
		requestID: opts.RequestID,
	}

	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.exec == nil || internal.IsTypedNil(p.exec) {
		p.exec = &HTTPExecutor{}
	}
	if p.coord == nil {
		p.coord = refresh.NewCoordinator(nil, nil, refresh.WithLogger(p.logger))
	}
	p.store = p.coord.Store()
	if p.budget != nil && internal.IsTypedNil(p.budget) {
		p.budget = nil
	}
	if p.observer == nil || internal.IsTypedNil(p.observer) {
		p.observer = observe.NoopObserver{}
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.requestID == nil {
		p.requestID = uuid.NewString
	}

	pol := opts.Policy
	if isZeroPolicy(pol) {
		pol = policy.DefaultRetryPolicy()
	}
	normalized, err := pol.Normalize()
	if err != nil {
		p.logger.Warn("invalid retry policy, using defaults", zap.Error(err))
		normalized, _ = policy.DefaultRetryPolicy().Normalize()
	}
	p.policy = normalized

	return p
}

// Policy returns the normalized retry policy in use.
func (p *Pipeline) Policy() policy.RetryPolicy {
	return p.policy
}

// Coordinator returns the refresh coordinator shared by all requests.
func (p *Pipeline) Coordinator() *refresh.Coordinator {
	return p.coord
}

// Get sends a GET request for path.
func (p *Pipeline) Get(ctx context.Context, path string) (*Response, error) {
	return p.Execute(ctx, Request{Method: http.MethodGet, Path: path})
}

// Post sends body as JSON to path.
func (p *Pipeline) Post(ctx context.Context, path string, body []byte) (*Response, error) {
	return p.Execute(ctx, Request{
		Method: http.MethodPost,
		Path:   path,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	})
}

// DecodeJSON executes req and decodes a successful response body into T.
func DecodeJSON[T any](ctx context.Context, p *Pipeline, req Request) (T, error) {
	var zero T
	resp, err := p.Execute(ctx, req)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return zero, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}

// Execute sends req until it succeeds or fails terminally.
//
// Terminal failures are *Error values. If ctx ends first, ctx.Err() is
// returned.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p == nil {
		p = NewFromOptions(nil, nil, Options{})
	}

	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	info := observe.RequestInfo{ID: p.requestID(), Method: req.Method, Path: req.Path}
	capture, _ := observe.TimelineCaptureFromContext(ctx)

	tl := observe.Timeline{
		Request:    info,
		Start:      p.clock(),
		Attributes: map[string]string{},
		Attempts:   make([]observe.AttemptRecord, 0, 1),
	}
	p.observer.OnStart(ctx, info)

	finish := func(resp *Response, err error) (*Response, error) {
		tl.End = p.clock()
		tl.FinalErr = err
		if err != nil {
			tl.Attributes["final_reason"] = failureReason(err)
			p.observer.OnFailure(ctx, info, tl)
			p.logger.Debug("request failed",
				zap.String("request_id", info.ID),
				zap.String("method", info.Method),
				zap.String("path", info.Path),
				zap.Int("attempts", len(tl.Attempts)),
				zap.Error(err),
			)
		} else {
			p.observer.OnSuccess(ctx, info, tl)
		}
		if capture != nil {
			observe.StoreTimelineCapture(capture, &tl)
		}
		return resp, err
	}

	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if !classify.IsIdempotent(req.Method) && header.Get(HeaderIdempotencyKey) == "" {
		header.Set(HeaderIdempotencyKey, info.ID)
	}

	cred := p.currentCredential(ctx, "")
	at := policy.Attempt{Method: req.Method}
	var backoff time.Duration

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return finish(nil, err)
		}

		send := req
		send.Header = header.Clone()
		if cred != "" {
			send.Header.Set(HeaderAuthorization, cred.Bearer())
		}

		resp, out, start, end := p.attempt(ctx, info, send, n, at)
		rec := observe.AttemptRecord{
			Attempt:   n,
			StartTime: start,
			EndTime:   end,
			Outcome:   out,
			Err:       out.Err,
			Backoff:   backoff,
			Refreshed: at.Refreshed,
		}

		if out.Kind == classify.OutcomeSuccess {
			p.record(ctx, &tl, rec)
			return finish(resp, nil)
		}
		if err := ctx.Err(); err != nil {
			rec.Outcome = classify.Outcome{Kind: classify.OutcomeCanceled, Reason: "context_canceled", Err: err}
			p.record(ctx, &tl, rec)
			return finish(nil, err)
		}

		action := p.policy.Decide(out, at)

		switch action.Kind {
		case policy.ActionRefresh:
			p.record(ctx, &tl, rec)
			fresh, err := p.coord.Obtain(ctx, cred)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return finish(nil, ctxErr)
				}
				return finish(nil, &Error{
					Reason:   ReasonRefreshFailed,
					Status:   out.Status,
					Attempts: n + 1,
					Detail:   action.Reason,
					Err:      err,
				})
			}
			cred = fresh
			at.Refreshed = true
			tl.Attributes["refreshed"] = "true"
			backoff = 0

		case policy.ActionRetryAfter:
			if p.budget != nil {
				retry := at.Retries() + 1
				d := p.budget.AllowRetry(ctx, retry, out)
				if d.Reason == "" {
					if d.Allowed {
						d.Reason = budget.ReasonAllowed
					} else {
						d.Reason = budget.ReasonBudgetDenied
					}
				}
				rec.BudgetAllowed = d.Allowed
				rec.BudgetReason = d.Reason
				p.observer.OnBudgetDecision(ctx, observe.BudgetDecisionEvent{
					Request: info,
					Retry:   retry,
					Outcome: out,
					Allowed: d.Allowed,
					Reason:  d.Reason,
				})
				if !d.Allowed {
					p.record(ctx, &tl, rec)
					return finish(nil, terminalError(out, n+1, d.Reason))
				}
			}
			p.record(ctx, &tl, rec)

			if err := p.sleep(ctx, action.Delay); err != nil {
				return finish(nil, err)
			}
			at = at.Next(out.Kind)
			backoff = action.Delay
			cred = p.currentCredential(ctx, cred)

		default:
			p.record(ctx, &tl, rec)
			return finish(nil, terminalError(out, n+1, action.Reason))
		}
	}
}

func (p *Pipeline) attempt(ctx context.Context, info observe.RequestInfo, req Request, n int, at policy.Attempt) (resp *Response, out classify.Outcome, start, end time.Time) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.policy.AttemptTimeout)
	defer cancel()

	attemptCtx = observe.WithoutTimelineCapture(attemptCtx)
	attemptCtx = observe.WithAttemptInfo(attemptCtx, observe.AttemptInfo{
		RequestID:      info.ID,
		Attempt:        n,
		NetworkRetries: at.NetworkRetries,
		ServerRetries:  at.ServerRetries,
		Refreshed:      at.Refreshed,
	})

	start = p.clock()
	resp, out = p.exec.Send(attemptCtx, req)
	end = p.clock()

	if out.Kind == classify.OutcomeUnknown {
		out.Kind = classify.OutcomeNetworkError
		if out.Reason == "" {
			out.Reason = "unknown_outcome"
		}
	}
	// Only the caller's context makes an attempt Canceled. The per-attempt
	// deadline is a network timeout.
	if out.Kind == classify.OutcomeCanceled && ctx.Err() == nil {
		out.Kind = classify.OutcomeNetworkError
		out.Reason = "timeout"
	}
	if out.Reason == "" {
		out.Reason = out.Kind.String()
	}

	p.logger.Debug("attempt",
		zap.String("request_id", info.ID),
		zap.String("method", info.Method),
		zap.String("path", info.Path),
		zap.Int("attempt", n),
		zap.Stringer("outcome", out),
		zap.Duration("elapsed", end.Sub(start)),
	)
	return resp, out, start, end
}

func (p *Pipeline) record(ctx context.Context, tl *observe.Timeline, rec observe.AttemptRecord) {
	tl.Attempts = append(tl.Attempts, rec)
	p.observer.OnAttempt(ctx, tl.Request, rec)
}

// currentCredential reads the store, falling back to prev if the store fails.
func (p *Pipeline) currentCredential(ctx context.Context, prev credential.Credential) credential.Credential {
	cred, ok, err := p.store.Get(ctx)
	if err != nil {
		p.logger.Warn("read credential", zap.Error(err))
		return prev
	}
	if !ok {
		return ""
	}
	return cred
}

func failureReason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Status > 0 {
			return e.Reason.String() + "_" + strconv.Itoa(e.Status)
		}
		return e.Reason.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline_exceeded"
	}
	return "canceled"
}

func isZeroPolicy(p policy.RetryPolicy) bool {
	return p.Network == (policy.ClassPolicy{}) &&
		p.Server == (policy.ClassPolicy{}) &&
		p.MaxDelay == 0 &&
		p.AttemptTimeout == 0 &&
		!p.IdempotentOnly
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
