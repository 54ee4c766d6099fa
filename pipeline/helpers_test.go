package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/aponysus/reauth/classify"
	"github.com/aponysus/reauth/credential"
	"github.com/aponysus/reauth/observe"
	"github.com/aponysus/reauth/refresh"
)

// scriptedExecutor returns outcomes from script in order, then repeats the
// last one. It records the Authorization header of every send.
type scriptedExecutor struct {
	mu      sync.Mutex
	script  []classify.Outcome
	calls   int
	auth    []string
	headers [][]string
}

func newScripted(outs ...classify.Outcome) *scriptedExecutor {
	return &scriptedExecutor{script: outs}
}

func (s *scriptedExecutor) Send(_ context.Context, req Request) (*Response, classify.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	s.auth = append(s.auth, req.Header.Get(HeaderAuthorization))
	s.headers = append(s.headers, req.Header.Values(HeaderIdempotencyKey))

	out := s.script[i]
	if out.Kind == classify.OutcomeSuccess {
		return &Response{Status: out.Status, Body: []byte(`{"ok":true}`)}, out
	}
	return nil, out
}

func (s *scriptedExecutor) sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var (
	ok200   = classify.FromStatus(200)
	unauth  = classify.FromStatus(401)
	bad400  = classify.FromStatus(400)
	down503 = classify.FromStatus(503)
	netErr  = classify.Outcome{Kind: classify.OutcomeNetworkError, Reason: "transport_error"}
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type countingInvoker struct {
	mu    sync.Mutex
	calls int
	cred  credential.Credential
	err   error
	delay time.Duration
}

func (c *countingInvoker) Refresh(ctx context.Context) (credential.Credential, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return c.cred, c.err
}

func (c *countingInvoker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type testObserver struct {
	observe.BaseObserver
	mu        sync.Mutex
	starts    int
	attempts  []observe.AttemptRecord
	budgets   []observe.BudgetDecisionEvent
	refreshes []observe.RefreshEvent
	successes int
	failures  []observe.Timeline
}

func (o *testObserver) OnStart(context.Context, observe.RequestInfo) {
	o.mu.Lock()
	o.starts++
	o.mu.Unlock()
}

func (o *testObserver) OnAttempt(_ context.Context, _ observe.RequestInfo, rec observe.AttemptRecord) {
	o.mu.Lock()
	o.attempts = append(o.attempts, rec)
	o.mu.Unlock()
}

func (o *testObserver) OnBudgetDecision(_ context.Context, ev observe.BudgetDecisionEvent) {
	o.mu.Lock()
	o.budgets = append(o.budgets, ev)
	o.mu.Unlock()
}

func (o *testObserver) OnRefresh(_ context.Context, ev observe.RefreshEvent) {
	o.mu.Lock()
	o.refreshes = append(o.refreshes, ev)
	o.mu.Unlock()
}

func (o *testObserver) OnSuccess(context.Context, observe.RequestInfo, observe.Timeline) {
	o.mu.Lock()
	o.successes++
	o.mu.Unlock()
}

func (o *testObserver) OnFailure(_ context.Context, _ observe.RequestInfo, tl observe.Timeline) {
	o.mu.Lock()
	o.failures = append(o.failures, tl)
	o.mu.Unlock()
}

// newTestPipeline wires exec to a coordinator over a MemoryStore holding
// initial and records sleeps instead of waiting.
func newTestPipeline(exec Executor, inv refresh.Invoker, initial credential.Credential, opts ...Option) (*Pipeline, *credential.MemoryStore, *sleepRecorder) {
	store := credential.NewMemoryStore(initial)
	coord := refresh.NewCoordinator(inv, store)
	p := New(exec, coord, opts...)
	rec := &sleepRecorder{}
	p.sleep = rec.sleep
	return p, store, rec
}
