// Package reauth is a thin facade over the process-wide default pipeline.
package reauth

import (
	"context"

	"github.com/aponysus/reauth/observe"
	"github.com/aponysus/reauth/pipeline"
)

// Request and Response are re-exported for callers that only use the facade.
type (
	Request  = pipeline.Request
	Response = pipeline.Response
)

// Init sets the global default pipeline.
// It must be called before Execute/Get/Post are used.
func Init(p *pipeline.Pipeline) {
	pipeline.SetGlobal(p)
}

// Execute sends req through the default pipeline.
func Execute(ctx context.Context, req Request) (*Response, error) {
	return pipeline.Default().Execute(ctx, req)
}

// Get sends a GET for path through the default pipeline.
func Get(ctx context.Context, path string) (*Response, error) {
	return pipeline.Default().Get(ctx, path)
}

// Post sends a JSON POST for path through the default pipeline.
func Post(ctx context.Context, path string, body []byte) (*Response, error) {
	return pipeline.Default().Post(ctx, path, body)
}

// GetJSON sends a GET for path and decodes the response body into T.
func GetJSON[T any](ctx context.Context, path string) (T, error) {
	return pipeline.DecodeJSON[T](ctx, pipeline.Default(), Request{Method: "GET", Path: path})
}

// ExecuteWithTimeline sends req through the default pipeline and returns the
// recorded Timeline.
func ExecuteWithTimeline(ctx context.Context, req Request) (*Response, observe.Timeline, error) {
	ctx, capture := observe.RecordTimeline(ctx)
	resp, err := pipeline.Default().Execute(ctx, req)
	var tl observe.Timeline
	if got := capture.Timeline(); got != nil {
		tl = *got
	}
	return resp, tl, err
}
