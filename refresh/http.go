package refresh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aponysus/reauth/credential"
)

// DefaultTokenPaths are the gjson paths tried, in order, to find the access
// token in a refresh response.
var DefaultTokenPaths = []string{
	"access_token",
	"accessToken",
	"token",
	"data.access_token",
	"data.accessToken",
	"data.token",
}

const maxRefreshBody = 1 << 20

// HTTPInvoker refreshes by calling an auth endpoint. The refresh token travels
// however the host configured Client (cookie jar, transport) or Header.
type HTTPInvoker struct {
	Client *http.Client
	URL    string

	// Method defaults to POST.
	Method string
	Header http.Header
	// Body is sent with every call. It may be nil.
	Body []byte

	// TokenPaths overrides DefaultTokenPaths.
	TokenPaths []string
}

func (h *HTTPInvoker) Refresh(ctx context.Context) (credential.Credential, error) {
	if h == nil || strings.TrimSpace(h.URL) == "" {
		return "", errors.New("reauth: refresh URL is not configured")
	}

	method := h.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(h.Body) > 0 {
		body = bytes.NewReader(h.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.URL, body)
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if len(h.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRefreshBody))
	if err != nil {
		return "", fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return "", &StatusError{Code: resp.StatusCode, Body: msg}
	}

	return extractToken(data, h.TokenPaths)
}

func extractToken(data []byte, paths []string) (credential.Credential, error) {
	if !gjson.ValidBytes(data) {
		return "", errors.New("reauth: refresh response is not valid JSON")
	}
	if len(paths) == 0 {
		paths = DefaultTokenPaths
	}
	for _, p := range paths {
		v := gjson.GetBytes(data, p)
		if v.Type == gjson.String && v.Str != "" {
			return credential.Credential(v.Str), nil
		}
	}
	return "", ErrEmptyCredential
}
