package refresh

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aponysus/reauth/observe"
)

// DefaultRefreshTimeout bounds a single Invoker.Refresh call.
const DefaultRefreshTimeout = 30 * time.Second

// Options configures a Coordinator.
type Options struct {
	// Invalidator runs once per failed cycle. Defaults to a SessionInvalidator
	// over the coordinator's store that calls OnForceLogin.
	Invalidator    Invalidator
	OnForceLogin   func(ctx context.Context, cause error)
	Observer       observe.Observer
	Logger         *zap.Logger
	Clock          func() time.Time
	RefreshTimeout time.Duration
}

// Option configures a Coordinator.
type Option func(*Options)

// WithInvalidator sets the session invalidator.
func WithInvalidator(inv Invalidator) Option {
	return func(o *Options) {
		o.Invalidator = inv
	}
}

// WithForceLogin sets the host hook called by the default SessionInvalidator
// after it clears the store. It has no effect with WithInvalidator.
func WithForceLogin(fn func(ctx context.Context, cause error)) Option {
	return func(o *Options) {
		o.OnForceLogin = fn
	}
}

// WithObserver sets the observer notified of every settled cycle.
func WithObserver(obs observe.Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithClock sets the clock function.
func WithClock(f func() time.Time) Option {
	return func(o *Options) {
		o.Clock = f
	}
}

// WithRefreshTimeout bounds each refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.RefreshTimeout = d
	}
}
