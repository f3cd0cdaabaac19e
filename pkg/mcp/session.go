// Package mcp implements the protocol engine: session lifecycle and
// correlation (L3), and the JSON-RPC dispatch/lifecycle state machine
// with bidirectional request support (L4). Sessions are owned by the
// SessionManager; a transport looks a session up by id for each request
// and the engine passes the resulting *Session to handlers.
package mcp

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"
)

// sessionIDAlphabet is the visible-ASCII range (0x21-0x7E) a session id
// is drawn from.
const sessionIDAlphabet = "!\"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~"

const sessionIDLength = 32

// GenerateSessionID returns a CSPRNG-backed opaque session id of
// visible-ASCII characters (bytes 0x21-0x7E), at least 16 bytes long.
func GenerateSessionID() (string, error) {
	buf := make([]byte, sessionIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mcp: generate session id: %w", err)
	}
	out := make([]byte, sessionIDLength)
	for i, b := range buf {
		out[i] = sessionIDAlphabet[int(b)%len(sessionIDAlphabet)]
	}
	return string(out), nil
}

// Session is the server-held record for a live MCP session. Transports
// hold only the id string; this record never crosses a transport
// boundary.
type Session struct {
	ID                 string
	OriginalIP         string
	CurrentIP          string
	CreatedAt          time.Time
	LastActivity       time.Time
	LastRegeneration   time.Time
	RequestCount       int64
	UserAgentFP        string
	Metadata           map[string]any

	mu sync.Mutex
}

// touch updates LastActivity and increments RequestCount.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
	s.RequestCount++
}

// SetMetadata stores a key/value pair on the session, lazily
// allocating Metadata on first use.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	s.Metadata[key] = value
}

// GetMetadata returns the value stored under key, if any.
func (s *Session) GetMetadata(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Metadata[key]
	return v, ok
}

// SessionManagerConfig controls session admission and expiry, mirroring
// internal/config.SessionConfig.
type SessionManagerConfig struct {
	MaxPerIP             int
	IdleTimeout          time.Duration
	MaxLifetime          time.Duration
	RegenerationInterval time.Duration
	BindToIP             bool
	BindToUserAgent      bool
}

// SessionManager owns session creation, lookup, regeneration, and
// expiry. All methods are safe for concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu        sync.RWMutex
	sessions  map[string]*Session
	perIPCount map[string]int
}

// NewSessionManager builds a SessionManager from the given config.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		cfg:        cfg,
		sessions:   make(map[string]*Session),
		perIPCount: make(map[string]int),
	}
}

// ErrTooManySessions is returned by Create when the originating IP has
// reached SessionManagerConfig.MaxPerIP live sessions.
type ErrTooManySessions struct{ IP string }

func (e *ErrTooManySessions) Error() string {
	return fmt.Sprintf("mcp: too many sessions for ip %s", e.IP)
}

// Create allocates a new session bound to clientIP/userAgent, subject to
// the per-IP session cap.
func (m *SessionManager) Create(clientIP, userAgent string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxPerIP > 0 && m.perIPCount[clientIP] >= m.cfg.MaxPerIP {
		return nil, &ErrTooManySessions{IP: clientIP}
	}

	id, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sess := &Session{
		ID:               id,
		OriginalIP:       clientIP,
		CurrentIP:        clientIP,
		CreatedAt:        now,
		LastActivity:     now,
		LastRegeneration: now,
		UserAgentFP:      fingerprint(userAgent),
		Metadata:         make(map[string]any),
	}
	m.sessions[id] = sess
	m.perIPCount[clientIP]++
	return sess, nil
}

// ErrSessionNotFound is returned by Get/Validate for an unknown or
// expired session id.
var ErrSessionNotFound = fmt.Errorf("mcp: session not found")

// ErrSessionExpired is returned by Validate when a session has exceeded
// its idle timeout or max lifetime.
var ErrSessionExpired = fmt.Errorf("mcp: session expired")

// ErrSessionIPMismatch is returned by Validate when BindToIP is set and
// the request's source IP does not match the session's current IP.
var ErrSessionIPMismatch = fmt.Errorf("mcp: session ip mismatch")

// ErrSessionUAMismatch is returned by Validate when BindToUserAgent is
// set and the request's user-agent fingerprint does not match.
var ErrSessionUAMismatch = fmt.Errorf("mcp: session user-agent mismatch")

// Get looks up a session by id without validating expiry or binding.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Validate looks up a session and checks idle timeout, max lifetime,
// and (if configured) IP/user-agent binding, updating activity
// bookkeeping on success. It also regenerates the session id when
// RegenerationInterval has elapsed, returning the possibly-new id.
func (m *SessionManager) Validate(id, clientIP, userAgent string) (*Session, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, "", ErrSessionNotFound
	}

	now := time.Now()
	if m.cfg.IdleTimeout > 0 && now.Sub(sess.LastActivity) > m.cfg.IdleTimeout {
		m.removeLocked(id)
		return nil, "", ErrSessionExpired
	}
	if m.cfg.MaxLifetime > 0 && now.Sub(sess.CreatedAt) > m.cfg.MaxLifetime {
		m.removeLocked(id)
		return nil, "", ErrSessionExpired
	}
	if m.cfg.BindToIP && sess.CurrentIP != clientIP {
		return nil, "", ErrSessionIPMismatch
	}
	if m.cfg.BindToUserAgent && sess.UserAgentFP != fingerprint(userAgent) {
		return nil, "", ErrSessionUAMismatch
	}

	sess.touch()

	newID := id
	if m.cfg.RegenerationInterval > 0 && now.Sub(sess.LastRegeneration) > m.cfg.RegenerationInterval {
		regenerated, err := GenerateSessionID()
		if err == nil {
			// Re-key the same record under the new id, then remove the
			// old entry — never leave the session unreachable mid-swap.
			sess.ID = regenerated
			sess.LastRegeneration = now
			m.sessions[regenerated] = sess
			delete(m.sessions, id)
			newID = regenerated
		}
	}

	return sess, newID, nil
}

// Remove deletes a session (explicit termination).
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

func (m *SessionManager) removeLocked(id string) {
	sess, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	if m.perIPCount[sess.OriginalIP] > 0 {
		m.perIPCount[sess.OriginalIP]--
	}
}

// Sweep removes all sessions past idle timeout or max lifetime; intended
// to be called periodically by a background goroutine.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, sess := range m.sessions {
		expired := (m.cfg.IdleTimeout > 0 && now.Sub(sess.LastActivity) > m.cfg.IdleTimeout) ||
			(m.cfg.MaxLifetime > 0 && now.Sub(sess.CreatedAt) > m.cfg.MaxLifetime)
		if expired {
			m.removeLocked(id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func fingerprint(userAgent string) string {
	return userAgent
}

// clientIPFromAddr extracts the host portion of a RemoteAddr-style
// "host:port" string, falling back to the raw value if it does not
// parse.
func clientIPFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
