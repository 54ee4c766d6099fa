package pipeline

import (
	"context"
	"net/http"

	"github.com/aponysus/reauth/classify"
)

const (
	HeaderAuthorization  = "Authorization"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Request is a transport-agnostic description of a call. Body is resent
// verbatim on every attempt.
type Request struct {
	Method string
	// Path is resolved against the executor's base URL. Absolute URLs are used
	// as is.
	Path   string
	Header http.Header
	Body   []byte
}

// Response is the result of a successful attempt.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Executor performs one attempt. It never retries and never refreshes.
//
// The returned Response may be nil when the outcome is not a success.
type Executor interface {
	Send(ctx context.Context, req Request) (*Response, classify.Outcome)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (*Response, classify.Outcome)

func (f ExecutorFunc) Send(ctx context.Context, req Request) (*Response, classify.Outcome) {
	return f(ctx, req)
}
