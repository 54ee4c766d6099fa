package refresh

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aponysus/reauth/credential"
	"github.com/aponysus/reauth/internal"
	"github.com/aponysus/reauth/observe"
)

// Coordinator runs at most one refresh at a time and fans its result out to
// every caller that asked for a credential while it was in flight.
type Coordinator struct {
	invoker     Invoker
	store       credential.Store
	invalidator Invalidator
	observer    observe.Observer
	logger      *zap.Logger
	clock       func() time.Time
	timeout     time.Duration

	mu       sync.Mutex
	inFlight bool
	cycle    uint64
	seq      uint64
	waiters  []*waiter
}

type waiter struct {
	seq uint64
	ch  chan result
}

type result struct {
	cred credential.Credential
	err  error
}

// State is a point-in-time view of a Coordinator.
type State struct {
	InFlight bool
	Waiters  int
	// Cycles counts refresh cycles started so far.
	Cycles uint64
}

// NewCoordinator returns a Coordinator that refreshes with inv and publishes
// new credentials to store. A nil store is replaced by an empty MemoryStore.
func NewCoordinator(inv Invoker, store credential.Store, opts ...Option) *Coordinator {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if store == nil || internal.IsTypedNil(store) {
		store = credential.NewMemoryStore("")
	}
	if inv != nil && internal.IsTypedNil(inv) {
		inv = nil
	}

	c := &Coordinator{
		invoker:     inv,
		store:       store,
		invalidator: o.Invalidator,
		observer:    o.Observer,
		logger:      o.Logger,
		clock:       o.Clock,
		timeout:     o.RefreshTimeout,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.invalidator == nil || internal.IsTypedNil(c.invalidator) {
		c.invalidator = &SessionInvalidator{Store: store, OnForceLogin: o.OnForceLogin, Logger: c.logger}
	}
	if c.observer == nil {
		c.observer = observe.NoopObserver{}
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRefreshTimeout
	}
	return c
}

// Store returns the credential store the coordinator publishes to.
func (c *Coordinator) Store() credential.Store {
	return c.store
}

// State reports whether a refresh is in flight and how many callers wait on it.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{InFlight: c.inFlight, Waiters: len(c.waiters), Cycles: c.cycle}
}

// Obtain returns a fresh credential.
//
// rejected is the credential the server just refused, or empty if unknown. If
// the store already holds a different credential, a refresh completed after
// the rejected request was sent and that credential is returned without
// starting a new cycle.
//
// Otherwise the caller joins the in-flight cycle, starting one if none is
// running, and blocks until the cycle settles or ctx ends. A failed cycle
// yields an error matching ErrRefreshFailed. Cancelling ctx only withdraws this
// caller; the refresh continues for the others.
func (c *Coordinator) Obtain(ctx context.Context, rejected credential.Credential) (credential.Credential, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if rejected != "" {
		cur, ok, err := c.store.Get(ctx)
		if err == nil && ok && cur != rejected {
			c.logger.Debug("credential already refreshed")
			return cur, nil
		}
	}

	w := &waiter{ch: make(chan result, 1)}

	c.mu.Lock()
	c.seq++
	w.seq = c.seq
	c.waiters = append(c.waiters, w)
	start := !c.inFlight
	var cycle uint64
	if start {
		c.inFlight = true
		c.cycle++
		cycle = c.cycle
	}
	c.mu.Unlock()

	if start {
		go c.run(context.WithoutCancel(ctx), cycle)
	}

	select {
	case r := <-w.ch:
		return r.cred, r.err
	case <-ctx.Done():
		c.mu.Lock()
		c.remove(w)
		c.mu.Unlock()
		return "", ctx.Err()
	}
}

// remove drops w from the waiter list. It must be called with c.mu held. If
// the cycle already settled, w is no longer listed and its buffered result is
// discarded.
func (c *Coordinator) remove(w *waiter) {
	for i, x := range c.waiters {
		if x == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) run(parent context.Context, cycle uint64) {
	start := c.clock()
	c.logger.Debug("credential refresh started", zap.Uint64("cycle", cycle))

	ctx, cancel := context.WithTimeout(parent, c.timeout)
	cred, err := c.invoke(ctx)
	if err == nil && cred == "" {
		err = ErrEmptyCredential
	}
	if err == nil {
		if serr := c.store.Set(ctx, cred); serr != nil {
			err = fmt.Errorf("store refreshed credential: %w", serr)
		}
	}
	cancel()

	if err != nil {
		err = &Error{Cycle: cycle, Err: err}
		cred = ""
		c.logger.Warn("credential refresh failed", zap.Uint64("cycle", cycle), zap.Error(err))
		c.invalidate(parent, err)
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	end := c.clock()
	c.logger.Debug("credential refresh settled",
		zap.Uint64("cycle", cycle),
		zap.Int("waiters", len(waiters)),
		zap.Duration("duration", end.Sub(start)),
		zap.Bool("ok", err == nil),
	)
	c.observer.OnRefresh(parent, observe.RefreshEvent{
		Cycle:   cycle,
		Start:   start,
		End:     end,
		Waiters: len(waiters),
		Err:     err,
	})

	for _, w := range waiters {
		w.ch <- result{cred: cred, err: err}
	}
}

func (c *Coordinator) invoke(ctx context.Context) (cred credential.Credential, err error) {
	if c.invoker == nil {
		return "", ErrNoInvoker
	}
	defer func() {
		if r := recover(); r != nil {
			cred = ""
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return c.invoker.Refresh(ctx)
}

func (c *Coordinator) invalidate(ctx context.Context, cause error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in session invalidator", zap.Any("panic", r))
		}
	}()
	c.invalidator.Invalidate(ctx, cause)
}
