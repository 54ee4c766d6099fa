package policy

import (
	"time"

	"github.com/aponysus/reauth/classify"
)

// Backoff names the delay growth between successive retries.
type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
	BackoffConstant    Backoff = "constant"
)

// ClassPolicy bounds retries for one class of transient failure.
type ClassPolicy struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	Backoff    Backoff       `json:"backoff"`
}

// RetryPolicy decides what happens after a failed attempt.
//
// Network errors and server errors are bounded separately and may use
// different backoff shapes. Unauthorized responses trigger at most one
// refresh per request.
type RetryPolicy struct {
	Network ClassPolicy `json:"network"`
	Server  ClassPolicy `json:"server"`

	// MaxDelay caps every computed delay.
	MaxDelay time.Duration `json:"max_delay"`

	// AttemptTimeout bounds each send. Exceeding it is a network error.
	AttemptTimeout time.Duration `json:"attempt_timeout"`

	// IdempotentOnly disables retries of transient failures for methods
	// with side effects (POST, PATCH).
	IdempotentOnly bool `json:"idempotent_only"`

	Meta Metadata `json:"-"`
}

type NormalizationInfo struct {
	Changed       bool     `json:"-"`
	ChangedFields []string `json:"-"`
}

type Metadata struct {
	Normalization NormalizationInfo `json:"-"`
}

const (
	DefaultMaxNetworkRetries = 3
	DefaultMaxServerRetries  = 2
	DefaultBaseDelay         = time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultAttemptTimeout    = 30 * time.Second
)

// DefaultRetryPolicy retries network errors 3 times with exponential backoff
// and server errors 2 times with linear backoff, both from a 1s base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Network: ClassPolicy{
			MaxRetries: DefaultMaxNetworkRetries,
			BaseDelay:  DefaultBaseDelay,
			Backoff:    BackoffExponential,
		},
		Server: ClassPolicy{
			MaxRetries: DefaultMaxServerRetries,
			BaseDelay:  DefaultBaseDelay,
			Backoff:    BackoffLinear,
		},
		MaxDelay:       DefaultMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

const (
	maxRetries        = 10
	minBaseDelay      = time.Millisecond
	maxDelayCeiling   = 5 * time.Minute
	minAttemptTimeout = time.Millisecond
)

// Normalize fills unset fields and clamps out-of-range values. A MaxRetries of
// zero is kept: it disables retries for that class.
func (p RetryPolicy) Normalize() (RetryPolicy, error) {
	normalized := p
	norm := &normalized.Meta.Normalization

	markChanged := func(field string) {
		norm.Changed = true
		for _, f := range norm.ChangedFields {
			if f == field {
				return
			}
		}
		norm.ChangedFields = append(norm.ChangedFields, field)
	}

	if err := normalizeClass(&normalized.Network, "network", BackoffExponential, markChanged); err != nil {
		return RetryPolicy{}, err
	}
	if err := normalizeClass(&normalized.Server, "server", BackoffLinear, markChanged); err != nil {
		return RetryPolicy{}, err
	}

	if normalized.MaxDelay <= 0 {
		normalized.MaxDelay = DefaultMaxDelay
		markChanged("max_delay")
	}
	if normalized.MaxDelay > maxDelayCeiling {
		normalized.MaxDelay = maxDelayCeiling
		markChanged("max_delay")
	}

	if normalized.AttemptTimeout <= 0 {
		normalized.AttemptTimeout = DefaultAttemptTimeout
		markChanged("attempt_timeout")
	}
	if normalized.AttemptTimeout < minAttemptTimeout {
		normalized.AttemptTimeout = minAttemptTimeout
		markChanged("attempt_timeout")
	}

	return normalized, nil
}

func normalizeClass(c *ClassPolicy, prefix string, defaultBackoff Backoff, markChanged func(string)) error {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
		markChanged(prefix + ".max_retries")
	} else if c.MaxRetries > maxRetries {
		c.MaxRetries = maxRetries
		markChanged(prefix + ".max_retries")
	}

	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
		markChanged(prefix + ".base_delay")
	}
	if c.BaseDelay < minBaseDelay {
		c.BaseDelay = minBaseDelay
		markChanged(prefix + ".base_delay")
	}

	switch c.Backoff {
	case "":
		c.Backoff = defaultBackoff
		markChanged(prefix + ".backoff")
	case BackoffExponential, BackoffLinear, BackoffConstant:
	default:
		return &NormalizeError{Field: prefix + ".backoff", Value: string(c.Backoff)}
	}
	return nil
}

// Delay returns the wait before retry number n (0-based), uncapped.
//
// Exponential: 2^n * base. Linear: n * base, so the first retry is immediate.
// Constant: base.
func (c ClassPolicy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	switch c.Backoff {
	case BackoffLinear:
		return time.Duration(n) * c.BaseDelay
	case BackoffConstant:
		return c.BaseDelay
	default:
		d := c.BaseDelay
		for i := 0; i < n; i++ {
			if d > maxDelayCeiling {
				return d
			}
			d *= 2
		}
		return d
	}
}

// Decide maps the outcome of the latest attempt to the next action.
func (p RetryPolicy) Decide(out classify.Outcome, at Attempt) Action {
	switch out.Kind {
	case classify.OutcomeUnauthorized:
		if at.Refreshed {
			return Action{Kind: ActionFail, Reason: "unauthorized_after_refresh"}
		}
		return Action{Kind: ActionRefresh, Reason: "unauthorized"}
	case classify.OutcomeNetworkError:
		return p.retryOrFail(p.Network, at.NetworkRetries, at, "network_retries_exhausted")
	case classify.OutcomeServerError:
		return p.retryOrFail(p.Server, at.ServerRetries, at, "server_retries_exhausted")
	case classify.OutcomeClientError:
		return Action{Kind: ActionFail, Reason: "client_error"}
	case classify.OutcomeCanceled:
		return Action{Kind: ActionFail, Reason: "canceled"}
	default:
		return Action{Kind: ActionFail, Reason: "not_retryable"}
	}
}

func (p RetryPolicy) retryOrFail(c ClassPolicy, retries int, at Attempt, exhausted string) Action {
	if p.IdempotentOnly && !classify.IsIdempotent(at.Method) {
		return Action{Kind: ActionFail, Reason: "non_idempotent"}
	}
	if retries >= c.MaxRetries {
		return Action{Kind: ActionFail, Reason: exhausted}
	}
	return Action{Kind: ActionRetryAfter, Delay: capDelay(c.Delay(retries), p.MaxDelay)}
}

func capDelay(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
