package refresh

import (
	"context"

	"go.uber.org/zap"

	"github.com/aponysus/reauth/credential"
)

// Invalidator ends the session after an unrecoverable refresh failure.
type Invalidator interface {
	Invalidate(ctx context.Context, cause error)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context, cause error)

func (f InvalidatorFunc) Invalidate(ctx context.Context, cause error) {
	f(ctx, cause)
}

// SessionInvalidator clears the stored credential and notifies the host so it
// can route the user to a fresh login.
type SessionInvalidator struct {
	Store credential.Store

	// OnForceLogin is called after the store is cleared. It may be nil.
	OnForceLogin func(ctx context.Context, cause error)

	Logger *zap.Logger
}

func (s *SessionInvalidator) Invalidate(ctx context.Context, cause error) {
	if s == nil {
		return
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if s.Store != nil {
		if err := s.Store.Clear(ctx); err != nil {
			logger.Warn("clear credential store", zap.Error(err))
		}
	}

	logger.Warn("session invalidated", zap.Error(cause))

	if s.OnForceLogin != nil {
		s.OnForceLogin(ctx, cause)
	}
}
