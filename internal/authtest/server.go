// Package authtest runs an in-process HTTP API guarded by short-lived HS256
// access tokens, with a refresh endpoint, for tests and the demo command.
package authtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RefreshPath = "/auth/refresh"
	APIPrefix   = "/api/"

	// RefreshHeader carries the refresh token on refresh calls.
	RefreshHeader = "X-Refresh-Token"
)

// Config configures a Server. Zero values get defaults.
type Config struct {
	Secret       []byte
	AccessTTL    time.Duration
	RefreshToken string
	Subject      string
}

// Server is an httptest.Server issuing and checking access tokens.
//
// Tokens carry a generation claim. ExpireAll bumps the generation so every
// outstanding token is rejected with 401, as if they had all expired at once.
type Server struct {
	*httptest.Server

	secret       []byte
	ttl          time.Duration
	refreshToken string
	subject      string

	generation atomic.Uint32

	refreshCalls atomic.Int32
	apiCalls     atomic.Int32

	mu            sync.Mutex
	refreshDelay  time.Duration
	refreshStatus int
	apiFailures   []int
	seenTokens    map[string]int
}

type claims struct {
	Gen uint32 `json:"gen"`
	jwt.RegisteredClaims
}

// New starts a Server. Callers must Close it.
func New(cfg Config) *Server {
	s := &Server{
		secret:       cfg.Secret,
		ttl:          cfg.AccessTTL,
		refreshToken: cfg.RefreshToken,
		subject:      cfg.Subject,
		seenTokens:   make(map[string]int),
	}
	if len(s.secret) == 0 {
		s.secret = []byte(uuid.NewString())
	}
	if s.ttl <= 0 {
		s.ttl = 15 * time.Minute
	}
	if s.refreshToken == "" {
		s.refreshToken = "refresh-" + uuid.NewString()
	}
	if s.subject == "" {
		s.subject = "demo-user"
	}
	s.generation.Store(1)

	mux := http.NewServeMux()
	mux.HandleFunc(RefreshPath, s.handleRefresh)
	mux.HandleFunc(APIPrefix, s.handleAPI)
	s.Server = httptest.NewServer(mux)
	return s
}

// RefreshToken returns the token the refresh endpoint accepts.
func (s *Server) RefreshToken() string { return s.refreshToken }

// RefreshURL is the absolute URL of the refresh endpoint.
func (s *Server) RefreshURL() string { return s.URL + RefreshPath }

// RefreshCalls counts calls to the refresh endpoint.
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// APICalls counts calls to API endpoints.
func (s *Server) APICalls() int { return int(s.apiCalls.Load()) }

// ExpireAll invalidates every token issued so far.
func (s *Server) ExpireAll() {
	s.generation.Add(1)
}

// SetRefreshDelay makes the refresh endpoint wait d before answering.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	s.refreshDelay = d
	s.mu.Unlock()
}

// SetRefreshFailure makes the refresh endpoint answer with status. Zero
// restores normal behavior.
func (s *Server) SetRefreshFailure(status int) {
	s.mu.Lock()
	s.refreshStatus = status
	s.mu.Unlock()
}

// FailNext makes the next n authorized API calls answer with status.
func (s *Server) FailNext(status, n int) {
	s.mu.Lock()
	for i := 0; i < n; i++ {
		s.apiFailures = append(s.apiFailures, status)
	}
	s.mu.Unlock()
}

// TokenUses reports how many authorized API calls presented token.
func (s *Server) TokenUses(token string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seenTokens[token]
}

// Issue mints an access token for the current generation.
func (s *Server) Issue() (string, error) {
	now := time.Now()
	c := claims{
		Gen: s.generation.Load(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   s.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

func (s *Server) verify(token string) (*claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, &claims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if c.Gen != s.generation.Load() {
		return nil, errors.New("token generation revoked")
	}
	return c, nil
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.refreshCalls.Add(1)

	s.mu.Lock()
	delay := s.refreshDelay
	status := s.refreshStatus
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if r.Header.Get(RefreshHeader) != s.refreshToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return
	}
	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "refresh unavailable"})
		return
	}

	token, err := s.Issue()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(s.ttl.Seconds()),
	})
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	s.apiCalls.Add(1)

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return
	}
	c, err := s.verify(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": fmt.Sprintf("invalid token: %v", err)})
		return
	}

	s.mu.Lock()
	s.seenTokens[token]++
	var fail int
	if len(s.apiFailures) > 0 {
		fail = s.apiFailures[0]
		s.apiFailures = s.apiFailures[1:]
	}
	s.mu.Unlock()

	if fail != 0 {
		writeJSON(w, fail, map[string]string{"error": http.StatusText(fail)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":    strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(APIPrefix, "/")),
		"method":  r.Method,
		"subject": c.Subject,
		"token":   c.ID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
