package classify

import "strconv"

// OutcomeKind is the tag of an Outcome.
type OutcomeKind int

const (
	OutcomeUnknown OutcomeKind = iota
	OutcomeSuccess
	OutcomeUnauthorized
	OutcomeServerError
	OutcomeClientError
	OutcomeNetworkError
	OutcomeCanceled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeServerError:
		return "server_error"
	case OutcomeClientError:
		return "client_error"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Outcome describes the result of sending one request.
//
// Status is the HTTP status code when a response was received and 0 otherwise.
// Err carries the transport error for network failures.
type Outcome struct {
	Kind   OutcomeKind
	Status int
	Reason string
	Err    error
}

// Transient reports whether the outcome may succeed when resent unchanged.
func (o Outcome) Transient() bool {
	return o.Kind == OutcomeNetworkError || o.Kind == OutcomeServerError
}

func (o Outcome) String() string {
	if o.Status == 0 {
		return o.Kind.String()
	}
	return o.Kind.String() + "(" + strconv.Itoa(o.Status) + ")"
}
