package auth

import (
	"fmt"
	"sync"
	"time"
)

// PendingAuth is a single in-flight authorization-code request: the
// PKCE verifier and resource binding needed to complete the exchange,
// keyed by the CSRF state sent in the authorization URL.
type PendingAuth struct {
	State        string
	CodeVerifier string
	RedirectURI  string
	ResourceURI  string
	ClientID     string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// PendingAuthStore holds in-flight authorization requests keyed by
// state, each with a bounded TTL (default 10 minutes). Entries are
// consumed exactly once: a successful Take removes the entry so a
// replayed redirect can never complete twice.
type PendingAuthStore struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]PendingAuth
}

// NewPendingAuthStore builds a store with the given entry TTL (<=0
// uses 10 minutes, matching AuthConfig.PendingAuthTTL's default).
func NewPendingAuthStore(ttl time.Duration) *PendingAuthStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PendingAuthStore{ttl: ttl, m: make(map[string]PendingAuth)}
}

// Put inserts a PendingAuth keyed by its State, stamping CreatedAt/
// ExpiresAt from now.
func (s *PendingAuthStore) Put(p PendingAuth) {
	now := nowFunc()
	p.CreatedAt = now
	p.ExpiresAt = now.Add(s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[p.State] = p
}

// ErrStateNotFound is returned when a redirect references an unknown or
// already-consumed state.
var ErrStateNotFound = fmt.Errorf("auth: unknown or already-consumed state")

// ErrStateExpired is returned when a redirect arrives after the
// pending-auth TTL has elapsed.
var ErrStateExpired = fmt.Errorf("auth: state expired")

// Take validates and atomically consumes the pending entry for state.
// The entry is removed whether or not it has expired, so an attacker
// cannot probe for a not-yet-expired match by replaying the same state.
func (s *PendingAuthStore) Take(state string) (PendingAuth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[state]
	if !ok {
		return PendingAuth{}, ErrStateNotFound
	}
	delete(s.m, state)
	if nowFunc().After(p.ExpiresAt) {
		return PendingAuth{}, ErrStateExpired
	}
	return p, nil
}

// Sweep removes expired entries and reports how many were removed.
// Intended to run periodically; Take already purges lazily, so Sweep
// only matters for abandoned flows that never redirect back.
func (s *PendingAuthStore) Sweep() int {
	now := nowFunc()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, p := range s.m {
		if now.After(p.ExpiresAt) {
			delete(s.m, k)
			removed++
		}
	}
	return removed
}

// nowFunc is overridable in tests.
var nowFunc = time.Now
