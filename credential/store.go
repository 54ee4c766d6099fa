package credential

import (
	"context"
	"errors"
	"sync"
)

// ErrStoreUnavailable indicates the backing store could not be reached.
var ErrStoreUnavailable = errors.New("reauth: credential store unavailable")

// Credential is an opaque bearer access token.
type Credential string

// String redacts the token so credentials do not leak into logs.
func (c Credential) String() string {
	if c == "" {
		return "<empty>"
	}
	return "<redacted>"
}

// Bearer returns the Authorization header value for c.
func (c Credential) Bearer() string {
	return "Bearer " + string(c)
}

// Store gets, sets and clears the current credential.
//
// Get reports ok=false when no credential is stored.
type Store interface {
	Get(ctx context.Context) (cred Credential, ok bool, err error)
	Set(ctx context.Context, cred Credential) error
	Clear(ctx context.Context) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	cred Credential
}

// NewMemoryStore returns a MemoryStore holding initial (which may be empty).
func NewMemoryStore(initial Credential) *MemoryStore {
	return &MemoryStore{cred: initial}
}

func (s *MemoryStore) Get(context.Context) (Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.cred != "", nil
}

func (s *MemoryStore) Set(_ context.Context, cred Credential) error {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.cred = ""
	s.mu.Unlock()
	return nil
}
