package policy

import "time"

// Option mutates a RetryPolicy before normalization.
type Option func(*RetryPolicy)

// New returns DefaultRetryPolicy with opts applied. If the result fails
// normalization the defaults are returned unchanged.
func New(opts ...Option) RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}
	normalized, err := p.Normalize()
	if err != nil {
		normalized, _ = DefaultRetryPolicy().Normalize()
	}
	return normalized
}

// NetworkRetries bounds retries of network errors.
func NetworkRetries(max int, base time.Duration) Option {
	return func(p *RetryPolicy) {
		p.Network.MaxRetries = max
		p.Network.BaseDelay = base
	}
}

// ServerRetries bounds retries of 5xx responses.
func ServerRetries(max int, base time.Duration) Option {
	return func(p *RetryPolicy) {
		p.Server.MaxRetries = max
		p.Server.BaseDelay = base
	}
}

func NetworkBackoff(b Backoff) Option {
	return func(p *RetryPolicy) { p.Network.Backoff = b }
}

func ServerBackoff(b Backoff) Option {
	return func(p *RetryPolicy) { p.Server.Backoff = b }
}

func MaxDelay(d time.Duration) Option {
	return func(p *RetryPolicy) { p.MaxDelay = d }
}

func AttemptTimeout(d time.Duration) Option {
	return func(p *RetryPolicy) { p.AttemptTimeout = d }
}

// IdempotentOnly restricts transient retries to idempotent methods.
func IdempotentOnly(enabled bool) Option {
	return func(p *RetryPolicy) { p.IdempotentOnly = enabled }
}
