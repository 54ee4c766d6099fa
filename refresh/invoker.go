package refresh

import (
	"context"

	"github.com/aponysus/reauth/credential"
)

// Invoker obtains a new credential, usually from an auth endpoint using a
// long-lived refresh token the invoker owns.
type Invoker interface {
	Refresh(ctx context.Context) (credential.Credential, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context) (credential.Credential, error)

func (f InvokerFunc) Refresh(ctx context.Context) (credential.Credential, error) {
	return f(ctx)
}
