package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aponysus/reauth/credential"
	"github.com/aponysus/reauth/observe"
)

// gatedInvoker blocks every Refresh until release is closed.
type gatedInvoker struct {
	calls   atomic.Int32
	release chan struct{}
	cred    credential.Credential
	err     error

	mu   sync.Mutex
	ctxs []context.Context
}

func newGatedInvoker(cred credential.Credential, err error) *gatedInvoker {
	return &gatedInvoker{release: make(chan struct{}), cred: cred, err: err}
}

func (g *gatedInvoker) Refresh(ctx context.Context) (credential.Credential, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.ctxs = append(g.ctxs, ctx)
	g.mu.Unlock()
	select {
	case <-g.release:
		return g.cred, g.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type recordingInvalidator struct {
	calls atomic.Int32
	mu    sync.Mutex
	cause error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, cause error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.cause = cause
	r.mu.Unlock()
}

type refreshRecorder struct {
	observe.BaseObserver
	mu     sync.Mutex
	events []observe.RefreshEvent
}

func (r *refreshRecorder) OnRefresh(_ context.Context, ev observe.RefreshEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *refreshRecorder) snapshot() []observe.RefreshEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observe.RefreshEvent(nil), r.events...)
}

type failingStore struct {
	credential.Store
}

func (failingStore) Set(context.Context, credential.Credential) error {
	return errors.New("disk full")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
