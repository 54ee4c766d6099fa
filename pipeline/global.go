package pipeline

import (
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/aponysus/reauth/credential"
	"github.com/aponysus/reauth/refresh"
)

var (
	globalPipeline *Pipeline
	globalOnce     sync.Once
	globalMu       sync.Mutex
)

// Default returns the shared, lazy-initialized default pipeline.
// It uses NewDefault() if SetGlobal has not been called.
func Default() *Pipeline {
	globalOnce.Do(func() {
		globalMu.Lock()
		defer globalMu.Unlock()
		if globalPipeline == nil {
			globalPipeline = NewDefault()
		}
	})
	return globalPipeline
}

// SetGlobal configures the default pipeline.
// It must be called before Default() is used (e.g. at startup).
// If called after initialization, it logs a warning and does nothing.
func SetGlobal(p *Pipeline) {
	if p == nil {
		return
	}

	globalMu.Lock()
	if globalPipeline != nil {
		globalMu.Unlock()
		zap.L().Warn("pipeline: SetGlobal called after global pipeline already initialized; ignoring")
		return
	}
	globalPipeline = p
	globalMu.Unlock()

	globalOnce.Do(func() {})
}

// NewDefault creates a Pipeline with conservative defaults: http.DefaultClient,
// an empty in-memory credential store and no refresh invoker, so a 401 fails
// with ErrRefreshFailed.
func NewDefault(opts ...Option) *Pipeline {
	coord := refresh.NewCoordinator(nil, credential.NewMemoryStore(""))
	return New(&HTTPExecutor{Client: http.DefaultClient}, coord, opts...)
}
