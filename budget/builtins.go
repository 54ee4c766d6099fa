package budget

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/aponysus/reauth/classify"
)

// UnlimitedBudget allows every retry.
type UnlimitedBudget struct{}

func (UnlimitedBudget) AllowRetry(_ context.Context, _ int, _ classify.Outcome) Decision {
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

// TokenBucketBudget is a simple token-bucket implementation shared by every
// request of a pipeline.
//
// It starts full (capacity tokens) and refills at refillPerSecond tokens/second.
// Each retry consumes one token.
type TokenBucketBudget struct {
	mu sync.Mutex

	capacity        float64
	refillPerSecond float64

	tokens float64
	last   time.Time
	now    func() time.Time
}

func NewTokenBucketBudget(capacity int, refillPerSecond float64) *TokenBucketBudget {
	if capacity < 0 {
		capacity = 0
	}
	if refillPerSecond < 0 {
		refillPerSecond = 0
	}
	if math.IsNaN(refillPerSecond) || math.IsInf(refillPerSecond, 0) {
		refillPerSecond = 0
	}
	return &TokenBucketBudget{
		capacity:        float64(capacity),
		refillPerSecond: refillPerSecond,
		tokens:          float64(capacity),
		last:            time.Now(),
		now:             time.Now,
	}
}

// Tokens reports the tokens currently available, without refilling.
func (b *TokenBucketBudget) Tokens() float64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func (b *TokenBucketBudget) AllowRetry(_ context.Context, _ int, _ classify.Outcome) Decision {
	if b == nil {
		return Decision{Allowed: false, Reason: ReasonBudgetNil}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	nowFn := b.now
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn()

	if math.IsNaN(b.tokens) || math.IsInf(b.tokens, 0) {
		b.tokens = 0
	}

	if b.last.IsZero() {
		b.tokens = b.capacity
		b.last = now
	} else if b.refillPerSecond > 0 && !now.Before(b.last) {
		added := now.Sub(b.last).Seconds() * b.refillPerSecond
		if math.IsNaN(added) || math.IsInf(added, 0) || added < 0 {
			added = 0
		}
		b.tokens += added
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	} else {
		// Advance last on skew or no refill.
		b.last = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true, Reason: ReasonAllowed}
	}
	return Decision{Allowed: false, Reason: ReasonBudgetDenied}
}
