package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aponysus/reauth/classify"
)

// DefaultMaxBodyBytes bounds successful response bodies read by HTTPExecutor.
const DefaultMaxBodyBytes = 10 << 20

const maxDrainBytes = 4096

// ErrBodyTooLarge is the cause of a ClientError outcome for responses larger
// than MaxBodyBytes.
var ErrBodyTooLarge = errors.New("reauth: response body exceeds limit")

// HTTPExecutor sends requests with an *http.Client.
type HTTPExecutor struct {
	Client  *http.Client
	BaseURL string

	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

func (e *HTTPExecutor) Send(ctx context.Context, req Request) (*Response, classify.Outcome) {
	target, err := e.resolve(req.Path)
	if err != nil {
		return nil, classify.Outcome{Kind: classify.OutcomeClientError, Reason: "invalid_url", Err: err}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, classify.Outcome{Kind: classify.OutcomeClientError, Reason: "invalid_request", Err: err}
	}
	if req.Header != nil {
		hreq.Header = req.Header.Clone()
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(hreq)
	if err != nil {
		return nil, classify.FromError(err)
	}
	defer resp.Body.Close()

	out := classify.FromStatus(resp.StatusCode)
	if out.Kind != classify.OutcomeSuccess {
		// Drain a bounded prefix so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)
		return &Response{Status: resp.StatusCode, Header: resp.Header}, out
	}

	limit := e.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, classify.FromError(err)
	}
	if int64(len(data)) > limit {
		return nil, classify.Outcome{
			Kind:   classify.OutcomeClientError,
			Status: resp.StatusCode,
			Reason: "body_too_large",
			Err:    ErrBodyTooLarge,
		}
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, out
}

func (e *HTTPExecutor) resolve(path string) (string, error) {
	if u, err := url.Parse(path); err == nil && u.Scheme != "" && u.Host != "" {
		return path, nil
	}

	base := strings.TrimRight(strings.TrimSpace(e.BaseURL), "/")
	if base == "" {
		return "", fmt.Errorf("reauth: relative path %q without a base URL", path)
	}
	if path == "" {
		return base, nil
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}
