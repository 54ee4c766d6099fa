package classify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// HTTPError lets errors that wrap an HTTP response status be classified
// without importing the package that produced them.
type HTTPError interface {
	HTTPStatusCode() int
}

// FromStatus classifies an HTTP status code.
//
// 401 is Unauthorized, 5xx is ServerError, any other status outside 2xx is
// ClientError.
func FromStatus(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Outcome{Kind: OutcomeSuccess, Status: status, Reason: "success"}
	case status == http.StatusUnauthorized:
		return Outcome{Kind: OutcomeUnauthorized, Status: status, Reason: "http_401"}
	case status >= 500 && status <= 599:
		return Outcome{Kind: OutcomeServerError, Status: status, Reason: "http_5xx"}
	default:
		return Outcome{Kind: OutcomeClientError, Status: status, Reason: "http_" + strconv.Itoa(status)}
	}
}

// FromError classifies a failed send.
//
// Cancellation aborts; deadlines and transport failures are network errors.
// Errors implementing HTTPError are classified by their status.
func FromError(err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess, Reason: "success"}
	}
	if errors.Is(err, context.Canceled) {
		return Outcome{Kind: OutcomeCanceled, Reason: "context_canceled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Kind: OutcomeNetworkError, Reason: "timeout", Err: err}
	}

	var he HTTPError
	if errors.As(err, &he) && he.HTTPStatusCode() > 0 {
		out := FromStatus(he.HTTPStatusCode())
		out.Err = err
		return out
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Outcome{Kind: OutcomeNetworkError, Reason: "timeout", Err: err}
	}
	return Outcome{Kind: OutcomeNetworkError, Reason: "transport_error", Err: err}
}

// IsIdempotent reports whether method is safe to resend without side effects.
func IsIdempotent(method string) bool {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "", "GET", "HEAD", "PUT", "DELETE", "OPTIONS", "TRACE":
		return true
	default:
		return false
	}
}
