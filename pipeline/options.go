package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/aponysus/reauth/budget"
	"github.com/aponysus/reauth/observe"
	"github.com/aponysus/reauth/policy"
)

// Options configures a Pipeline.
type Options struct {
	// Policy defaults to policy.DefaultRetryPolicy when zero.
	Policy   policy.RetryPolicy
	Budget   budget.Budget
	Observer observe.Observer
	Logger   *zap.Logger
	Clock    func() time.Time

	// RequestID generates per-call IDs. Defaults to random UUIDs.
	RequestID func() string
}

// Option configures a Pipeline.
type Option func(*Options)

// WithPolicy sets the retry policy.
func WithPolicy(p policy.RetryPolicy) Option {
	return func(o *Options) {
		o.Policy = p
	}
}

// WithPolicyOptions builds the retry policy from policy options.
func WithPolicyOptions(opts ...policy.Option) Option {
	return func(o *Options) {
		o.Policy = policy.New(opts...)
	}
}

// WithBudget gates retries with b.
func WithBudget(b budget.Budget) Option {
	return func(o *Options) {
		o.Budget = b
	}
}

// WithObserver sets the observer.
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

// WithRequestID sets the request ID generator.
func WithRequestID(f func() string) Option {
	return func(o *Options) {
		o.RequestID = f
	}
}
