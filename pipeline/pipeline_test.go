package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/aponysus/reauth/budget"
	"github.com/aponysus/reauth/classify"
	"github.com/aponysus/reauth/credential"
	"github.com/aponysus/reauth/observe"
	"github.com/aponysus/reauth/policy"
	"github.com/aponysus/reauth/refresh"
)

func TestExecute_SuccessAttachesBearer(t *testing.T) {
	exec := newScripted(ok200)
	p, _, _ := newTestPipeline(exec, nil, "tok-1")

	resp, err := p.Get(context.Background(), "/bookings")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != `{"ok":true}` {
		t.Fatalf("resp=%+v", resp)
	}
	if diff := cmp.Diff([]string{"Bearer tok-1"}, exec.auth); diff != "" {
		t.Fatalf("auth headers (-want +got):\n%s", diff)
	}
}

func TestExecute_OmitsAuthorizationWithoutCredential(t *testing.T) {
	exec := newScripted(ok200)
	p, _, _ := newTestPipeline(exec, nil, "")

	if _, err := p.Get(context.Background(), "/public"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.auth[0] != "" {
		t.Fatalf("authorization=%q, want none", exec.auth[0])
	}
}

func TestExecute_RefreshThenReplayWithNewCredential(t *testing.T) {
	exec := newScripted(unauth, ok200)
	inv := &countingInvoker{cred: "tok-2"}
	obs := &testObserver{}
	p, store, sleeps := newTestPipeline(exec, inv, "tok-1", WithObserver(obs))

	if _, err := p.Get(context.Background(), "/bookings"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inv.count() != 1 {
		t.Fatalf("refresh calls=%d, want 1", inv.count())
	}
	if diff := cmp.Diff([]string{"Bearer tok-1", "Bearer tok-2"}, exec.auth); diff != "" {
		t.Fatalf("auth headers (-want +got):\n%s", diff)
	}
	if cur, _, _ := store.Get(context.Background()); cur != "tok-2" {
		t.Fatalf("store=%q, want tok-2", string(cur))
	}
	if len(sleeps.recorded()) != 0 {
		t.Fatalf("refresh replay must not back off, slept %v", sleeps.recorded())
	}
	if len(obs.attempts) != 2 || obs.attempts[0].Refreshed || !obs.attempts[1].Refreshed {
		t.Fatalf("attempts=%+v", obs.attempts)
	}
	if obs.successes != 1 {
		t.Fatalf("successes=%d, want 1", obs.successes)
	}
}

func TestExecute_NoRefreshLoop(t *testing.T) {
	exec := newScripted(unauth, unauth, unauth)
	inv := &countingInvoker{cred: "tok-2"}
	p, _, _ := newTestPipeline(exec, inv, "tok-1")

	_, err := p.Get(context.Background(), "/bookings")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err=%v, want ErrUnauthorized", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Attempts != 2 || perr.Status != 401 || perr.Detail != "unauthorized_after_refresh" {
		t.Fatalf("err=%+v", perr)
	}
	if exec.sends() != 2 {
		t.Fatalf("sends=%d, want 2", exec.sends())
	}
	if inv.count() != 1 {
		t.Fatalf("refresh calls=%d, want 1", inv.count())
	}
}

func TestExecute_NetworkBackoffExponential(t *testing.T) {
	exec := newScripted(netErr)
	p, _, sleeps := newTestPipeline(exec, nil, "tok-1")

	_, err := p.Get(context.Background(), "/bookings")
	if !errors.Is(err, ErrNetworkError) {
		t.Fatalf("err=%v, want ErrNetworkError", err)
	}
	if exec.sends() != policy.DefaultMaxNetworkRetries+1 {
		t.Fatalf("sends=%d, want %d", exec.sends(), policy.DefaultMaxNetworkRetries+1)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if diff := cmp.Diff(want, sleeps.recorded()); diff != "" {
		t.Fatalf("delays (-want +got):\n%s", diff)
	}
}

func TestExecute_ClientErrorNotRetried(t *testing.T) {
	exec := newScripted(bad400)
	inv := &countingInvoker{cred: "tok-2"}
	p, _, sleeps := newTestPipeline(exec, inv, "tok-1")

	_, err := p.Get(context.Background(), "/bookings")
	if !errors.Is(err, ErrClientError) {
		t.Fatalf("err=%v, want ErrClientError", err)
	}
	if exec.sends() != 1 || len(sleeps.recorded()) != 0 || inv.count() != 0 {
		t.Fatalf("sends=%d sleeps=%v refreshes=%d", exec.sends(), sleeps.recorded(), inv.count())
	}
}

func TestExecute_ServerErrorsExhaustAfterThreeAttempts(t *testing.T) {
	exec := newScripted(down503, down503, down503)
	p, _, sleeps := newTestPipeline(exec, nil, "tok-1")

	_, err := p.Get(context.Background(), "/bookings")
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("err=%v, want ErrServerError", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Status != 503 || perr.Attempts != 3 {
		t.Fatalf("err=%+v", perr)
	}
	if diff := cmp.Diff([]time.Duration{0, time.Second}, sleeps.recorded()); diff != "" {
		t.Fatalf("delays (-want +got):\n%s", diff)
	}
}

func TestExecute_ServerErrorRecovers(t *testing.T) {
	exec := newScripted(down503, ok200)
	p, _, _ := newTestPipeline(exec, nil, "tok-1")

	if _, err := p.Get(context.Background(), "/bookings"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.sends() != 2 {
		t.Fatalf("sends=%d, want 2", exec.sends())
	}
}

func TestExecute_RetryCountersArePerClass(t *testing.T) {
	exec := newScripted(down503, down503, netErr, netErr, ok200)
	p, _, sleeps := newTestPipeline(exec, nil, "tok-1")

	if _, err := p.Get(context.Background(), "/bookings"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Duration{0, time.Second, time.Second, 2 * time.Second}
	if diff := cmp.Diff(want, sleeps.recorded()); diff != "" {
		t.Fatalf("delays (-want +got):\n%s", diff)
	}
}

func TestExecute_RefreshThenServerRetries(t *testing.T) {
	exec := newScripted(unauth, down503, ok200)
	inv := &countingInvoker{cred: "tok-2"}
	p, _, _ := newTestPipeline(exec, inv, "tok-1")

	if _, err := p.Get(context.Background(), "/bookings"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"Bearer tok-1", "Bearer tok-2", "Bearer tok-2"}, exec.auth); diff != "" {
		t.Fatalf("auth headers (-want +got):\n%s", diff)
	}
}

func TestExecute_RetryUsesCurrentCredential(t *testing.T) {
	var p *Pipeline
	var store *credential.MemoryStore
	calls := 0
	var auth []string
	exec := ExecutorFunc(func(_ context.Context, req Request) (*Response, classify.Outcome) {
		calls++
		auth = append(auth, req.Header.Get(HeaderAuthorization))
		if calls == 1 {
			// Another request refreshed while this one was failing.
			_ = store.Set(context.Background(), "tok-9")
			return nil, netErr
		}
		return &Response{Status: 200}, ok200
	})
	p, store, _ = newTestPipeline(exec, nil, "tok-1")

	if _, err := p.Get(context.Background(), "/x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"Bearer tok-1", "Bearer tok-9"}, auth); diff != "" {
		t.Fatalf("auth headers (-want +got):\n%s", diff)
	}
}

func TestExecute_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	var refreshes atomic.Int32
	inv := refresh.InvokerFunc(func(context.Context) (credential.Credential, error) {
		refreshes.Add(1)
		time.Sleep(50 * time.Millisecond)
		return "tok-2", nil
	})

	var mu sync.Mutex
	var replayed []string
	exec := ExecutorFunc(func(_ context.Context, req Request) (*Response, classify.Outcome) {
		auth := req.Header.Get(HeaderAuthorization)
		if auth != "Bearer tok-2" {
			return nil, unauth
		}
		mu.Lock()
		replayed = append(replayed, auth)
		mu.Unlock()
		return &Response{Status: 200}, ok200
	})

	store := credential.NewMemoryStore("tok-1")
	p := New(exec, refresh.NewCoordinator(inv, store))

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			_, err := p.Get(context.Background(), "/bookings")
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	elapsed := time.Since(start)

	if n := refreshes.Load(); n != 1 {
		t.Fatalf("refresh calls=%d, want 1", n)
	}
	if len(replayed) != 5 {
		t.Fatalf("replays=%d, want 5", len(replayed))
	}
	for _, a := range replayed {
		if a != "Bearer tok-2" {
			t.Fatalf("replay carried %q", a)
		}
	}
	if elapsed > time.Second {
		t.Fatalf("elapsed=%v, want about one refresh", elapsed)
	}
}

func TestExecute_RefreshFailureFailsAllAndInvalidatesOnce(t *testing.T) {
	inv := &countingInvoker{err: errors.New("refresh token expired"), delay: 20 * time.Millisecond}
	var forced atomic.Int32
	store := credential.NewMemoryStore("tok-1")
	coord := refresh.NewCoordinator(inv, store,
		refresh.WithForceLogin(func(context.Context, error) { forced.Add(1) }),
	)
	p := New(newScripted(unauth), coord)

	errs := make([]error, 5)
	var wg sync.WaitGroup
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = p.Get(context.Background(), "/bookings")
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrRefreshFailed) {
			t.Fatalf("request %d: err=%v, want ErrRefreshFailed", i, err)
		}
		var perr *Error
		if !errors.As(err, &perr) || perr.Reason != ReasonRefreshFailed {
			t.Fatalf("request %d: err=%v", i, err)
		}
	}
	if _, ok, _ := store.Get(context.Background()); ok {
		t.Fatalf("expected store to be empty")
	}
	// Requests that arrive after a failed cycle start their own, so the
	// invalidation count matches the cycle count.
	if int(forced.Load()) != inv.count() {
		t.Fatalf("force logins=%d, refresh cycles=%d", forced.Load(), inv.count())
	}
}

func TestExecute_IdempotencyKeyStableAcrossAttempts(t *testing.T) {
	exec := newScripted(down503, netErr, ok200)
	p, _, _ := newTestPipeline(exec, nil, "tok-1", WithRequestID(func() string { return "req-1" }))

	if _, err := p.Post(context.Background(), "/payments", []byte(`{"amount":10}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]string{{"req-1"}, {"req-1"}, {"req-1"}}
	if diff := cmp.Diff(want, exec.headers); diff != "" {
		t.Fatalf("idempotency keys (-want +got):\n%s", diff)
	}

	get := newScripted(ok200)
	p2, _, _ := newTestPipeline(get, nil, "tok-1")
	if _, err := p2.Get(context.Background(), "/x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(get.headers[0]) != 0 {
		t.Fatalf("GET carried idempotency key %v", get.headers[0])
	}
}

func TestExecute_CallerIdempotencyKeyKept(t *testing.T) {
	exec := newScripted(ok200)
	p, _, _ := newTestPipeline(exec, nil, "")

	_, err := p.Execute(context.Background(), Request{
		Method: "patch",
		Path:   "/bookings/1",
		Header: http.Header{HeaderIdempotencyKey: []string{"mine"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([][]string{{"mine"}}, exec.headers); diff != "" {
		t.Fatalf("idempotency keys (-want +got):\n%s", diff)
	}
}

func TestExecute_IdempotentOnlyPolicy(t *testing.T) {
	exec := newScripted(down503, ok200)
	p, _, _ := newTestPipeline(exec, nil, "tok-1", WithPolicyOptions(policy.IdempotentOnly(true)))

	_, err := p.Post(context.Background(), "/payments", nil)
	if !errors.Is(err, ErrServerError) || exec.sends() != 1 {
		t.Fatalf("err=%v sends=%d, want server error after 1 send", err, exec.sends())
	}
}

func TestExecute_BudgetDenialStopsRetries(t *testing.T) {
	exec := newScripted(down503)
	obs := &testObserver{}
	p, _, sleeps := newTestPipeline(exec, nil, "tok-1",
		WithBudget(budget.NewTokenBucketBudget(1, 0)),
		WithObserver(obs),
	)

	_, err := p.Get(context.Background(), "/bookings")
	var perr *Error
	if !errors.As(err, &perr) || perr.Reason != ReasonServerError || perr.Detail != budget.ReasonBudgetDenied {
		t.Fatalf("err=%v, want server error denied by budget", err)
	}
	if exec.sends() != 2 || len(sleeps.recorded()) != 1 {
		t.Fatalf("sends=%d sleeps=%v", exec.sends(), sleeps.recorded())
	}
	if len(obs.budgets) != 2 || !obs.budgets[0].Allowed || obs.budgets[1].Allowed {
		t.Fatalf("budget events=%+v", obs.budgets)
	}
	last := obs.attempts[len(obs.attempts)-1]
	if last.BudgetAllowed || last.BudgetReason != budget.ReasonBudgetDenied {
		t.Fatalf("last attempt=%+v", last)
	}
}

func TestExecute_CancelDuringBackoff(t *testing.T) {
	exec := newScripted(netErr)
	p, _, _ := newTestPipeline(exec, nil, "tok-1")

	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepWithContext(ctx, d)
	}

	_, err := p.Get(ctx, "/bookings")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	var perr *Error
	if errors.As(err, &perr) {
		t.Fatalf("cancellation must not be a pipeline error: %v", err)
	}
	if exec.sends() != 1 {
		t.Fatalf("sends=%d, want 1", exec.sends())
	}
}

func TestExecute_CancelledBeforeSend(t *testing.T) {
	exec := newScripted(ok200)
	p, _, _ := newTestPipeline(exec, nil, "tok-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Get(ctx, "/x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if exec.sends() != 0 {
		t.Fatalf("sends=%d, want 0", exec.sends())
	}
}

func TestExecute_AttemptTimeoutIsNetworkError(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, _ Request) (*Response, classify.Outcome) {
		<-ctx.Done()
		return nil, classify.FromError(ctx.Err())
	})
	p, _, _ := newTestPipeline(exec, nil, "tok-1", WithPolicyOptions(
		policy.AttemptTimeout(10*time.Millisecond),
		policy.NetworkRetries(1, time.Millisecond),
	))

	_, err := p.Get(context.Background(), "/slow")
	var perr *Error
	if !errors.As(err, &perr) || perr.Reason != ReasonNetworkError || perr.Attempts != 2 {
		t.Fatalf("err=%v, want network error after 2 attempts", err)
	}
}

func TestExecute_TimelineCapture(t *testing.T) {
	exec := newScripted(down503, ok200)
	clock := time.Unix(0, 0)
	p, _, _ := newTestPipeline(exec, nil, "tok-1",
		WithClock(func() time.Time { clock = clock.Add(time.Millisecond); return clock }),
		WithRequestID(func() string { return "req-7" }),
	)

	ctx, capture := observe.RecordTimeline(context.Background())
	if _, err := p.Get(ctx, "/bookings"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tl := capture.Timeline()
	if tl == nil {
		t.Fatalf("expected captured timeline")
	}
	if tl.Request.ID != "req-7" || tl.Request.Method != "GET" || tl.Request.Path != "/bookings" {
		t.Fatalf("request=%+v", tl.Request)
	}
	var kinds []classify.OutcomeKind
	for _, a := range tl.Attempts {
		kinds = append(kinds, a.Outcome.Kind)
	}
	if diff := cmp.Diff([]classify.OutcomeKind{classify.OutcomeServerError, classify.OutcomeSuccess}, kinds); diff != "" {
		t.Fatalf("attempt outcomes (-want +got):\n%s", diff)
	}
	if !tl.End.After(tl.Start) || tl.FinalErr != nil {
		t.Fatalf("timeline=%+v", tl)
	}
}

func TestExecute_FailureTimelineReason(t *testing.T) {
	obs := &testObserver{}
	p, _, _ := newTestPipeline(newScripted(bad400), nil, "tok-1", WithObserver(obs))

	_, _ = p.Get(context.Background(), "/missing")
	if len(obs.failures) != 1 {
		t.Fatalf("failures=%d, want 1", len(obs.failures))
	}
	if got := obs.failures[0].Attributes["final_reason"]; got != "client_error_400" {
		t.Fatalf("final_reason=%q", got)
	}
}

func TestExecute_UnknownOutcomeTreatedAsNetworkError(t *testing.T) {
	exec := newScripted(classify.Outcome{}, ok200)
	p, _, _ := newTestPipeline(exec, nil, "")

	if _, err := p.Get(context.Background(), "/x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.sends() != 2 {
		t.Fatalf("sends=%d, want 2", exec.sends())
	}
}

func TestDecodeJSON(t *testing.T) {
	p, _, _ := newTestPipeline(newScripted(ok200), nil, "tok-1")

	got, err := DecodeJSON[struct {
		OK bool `json:"ok"`
	}](context.Background(), p, Request{Path: "/x"})
	if err != nil || !got.OK {
		t.Fatalf("got=%+v err=%v", got, err)
	}

	p2, _, _ := newTestPipeline(newScripted(bad400), nil, "tok-1")
	if _, err := DecodeJSON[map[string]any](context.Background(), p2, Request{Path: "/x"}); !errors.Is(err, ErrClientError) {
		t.Fatalf("err=%v, want ErrClientError", err)
	}
}

func TestNew_InvalidPolicyFallsBack(t *testing.T) {
	bad := policy.DefaultRetryPolicy()
	bad.Network.Backoff = "sideways"
	p := New(newScripted(ok200), nil, WithPolicy(bad))

	if p.Policy().Network.Backoff != policy.BackoffExponential {
		t.Fatalf("policy=%+v, want defaults", p.Policy())
	}
	if p.Coordinator() == nil {
		t.Fatalf("expected a default coordinator")
	}
}

func TestSleepWithContext(t *testing.T) {
	if err := sleepWithContext(context.Background(), 0); err != nil {
		t.Fatalf("expected nil for zero duration, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepWithContext(ctx, 10*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
