package dpop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceTracker records seen DPoP proof jti values for replay defense.
// track_nonce/is_nonce_used/cleanup_expired_nonces map directly to
// TrackNonce/IsNonceUsed/CleanupExpiredNonces.
type NonceTracker interface {
	TrackNonce(jti string, iat time.Time) error
	IsNonceUsed(jti string) (bool, error)
	CleanupExpiredNonces(maxAge time.Duration) (int, error)
}

// MemoryNonceTracker is an in-process NonceTracker for single-instance
// deployments and tests.
type MemoryNonceTracker struct {
	mu    sync.Mutex
	seen  map[string]time.Time // jti -> iat
}

// NewMemoryNonceTracker builds an empty MemoryNonceTracker.
func NewMemoryNonceTracker() *MemoryNonceTracker {
	return &MemoryNonceTracker{seen: make(map[string]time.Time)}
}

func (t *MemoryNonceTracker) TrackNonce(jti string, iat time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[jti] = iat
	return nil
}

func (t *MemoryNonceTracker) IsNonceUsed(jti string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[jti]
	return ok, nil
}

func (t *MemoryNonceTracker) CleanupExpiredNonces(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for jti, iat := range t.seen {
		if iat.Before(cutoff) {
			delete(t.seen, jti)
			removed++
		}
	}
	return removed, nil
}

// RedisNonceTracker persists seen jti values in Redis with a TTL of
// maxAge, so expired entries are purged by Redis itself;
// CleanupExpiredNonces is a no-op reporting zero, kept only to satisfy
// the NonceTracker interface for callers that run it on a schedule
// regardless of backend.
type RedisNonceTracker struct {
	client *redis.Client
	prefix string
	maxAge time.Duration
}

// NewRedisNonceTracker builds a RedisNonceTracker over client, keys
// namespaced under prefix and expiring after maxAge.
func NewRedisNonceTracker(client *redis.Client, prefix string, maxAge time.Duration) *RedisNonceTracker {
	if prefix == "" {
		prefix = "mcpcore:dpop:nonce:"
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &RedisNonceTracker{client: client, prefix: prefix, maxAge: maxAge}
}

func (t *RedisNonceTracker) TrackNonce(jti string, iat time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.client.Set(ctx, t.prefix+jti, iat.Unix(), t.maxAge).Err(); err != nil {
		return fmt.Errorf("dpop: track nonce: %w", err)
	}
	return nil
}

func (t *RedisNonceTracker) IsNonceUsed(jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := t.client.Get(ctx, t.prefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dpop: check nonce: %w", err)
	}
	return true, nil
}

func (t *RedisNonceTracker) CleanupExpiredNonces(maxAge time.Duration) (int, error) {
	return 0, nil
}
