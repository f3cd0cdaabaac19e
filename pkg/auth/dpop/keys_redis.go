package dpop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyManager persists software-backed key pairs in Redis, for
// distributed deployments where any instance may need to sign with a
// key generated on another. HSM-backed pairs are never written here:
// their private material never leaves the HSM.
type RedisKeyManager struct {
	client *redis.Client
	prefix string
}

// NewRedisKeyManager builds a RedisKeyManager over client, namespacing
// keys under prefix (e.g. "mcpcore:dpop:key:").
func NewRedisKeyManager(client *redis.Client, prefix string) *RedisKeyManager {
	if prefix == "" {
		prefix = "mcpcore:dpop:key:"
	}
	return &RedisKeyManager{client: client, prefix: prefix}
}

type redisKeyRecord struct {
	ID            string    `json:"id"`
	Algorithm     Algorithm `json:"algorithm"`
	PrivateKeyDER []byte    `json:"private_key_der,omitempty"`
	Handle        string    `json:"handle,omitempty"`
	Thumbprint    string    `json:"thumbprint"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

func (m *RedisKeyManager) Store(kp *KeyPair) error {
	rec := redisKeyRecord{
		ID:         kp.ID,
		Algorithm:  kp.Algorithm,
		Handle:     kp.Handle,
		Thumbprint: kp.Thumbprint,
		CreatedAt:  kp.CreatedAt,
		ExpiresAt:  kp.ExpiresAt,
	}
	if kp.Handle == "" && kp.PrivateKey != nil {
		der, err := marshalPrivateKey(kp.PrivateKey)
		if err != nil {
			return err
		}
		rec.PrivateKeyDER = der
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("dpop: marshal key record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Set(ctx, m.prefix+kp.ID, raw, 0).Err(); err != nil {
		return fmt.Errorf("dpop: store key in redis: %w", err)
	}
	return nil
}

func (m *RedisKeyManager) Get(id string) (*KeyPair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := m.client.Get(ctx, m.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dpop: fetch key from redis: %w", err)
	}

	var rec redisKeyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("dpop: decode key record: %w", err)
	}

	kp := &KeyPair{
		ID:         rec.ID,
		Algorithm:  rec.Algorithm,
		Handle:     rec.Handle,
		Thumbprint: rec.Thumbprint,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
	}
	if len(rec.PrivateKeyDER) > 0 {
		priv, err := unmarshalPrivateKey(rec.PrivateKeyDER)
		if err != nil {
			return nil, err
		}
		kp.PrivateKey = priv
		kp.PublicKey = priv.Public()
	}
	return kp, nil
}

func (m *RedisKeyManager) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Del(ctx, m.prefix+id).Err(); err != nil {
		return fmt.Errorf("dpop: delete key from redis: %w", err)
	}
	return nil
}

func (m *RedisKeyManager) GenerateKeyPair(alg Algorithm) (*KeyPair, error) {
	kp, err := GenerateKeyPair(alg)
	if err != nil {
		return nil, err
	}
	if err := m.Store(kp); err != nil {
		return nil, err
	}
	return kp, nil
}

func (m *RedisKeyManager) Sign(keyID string, data []byte) ([]byte, error) {
	kp, err := m.Get(keyID)
	if err != nil {
		return nil, err
	}
	if kp.PrivateKey == nil {
		return nil, fmt.Errorf("dpop: key %s has no local signer (HSM-backed keys are not supported by RedisKeyManager)", keyID)
	}
	return signDigest(kp.PrivateKey, kp.Algorithm, data)
}

func (m *RedisKeyManager) ListKeys() ([]*KeyPair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ids []string
	iter := m.client.Scan(ctx, 0, m.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), m.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("dpop: scan keys in redis: %w", err)
	}

	out := make([]*KeyPair, 0, len(ids))
	for _, id := range ids {
		kp, err := m.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, kp)
	}
	return out, nil
}

func (m *RedisKeyManager) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("dpop: redis health check: %w", err)
	}
	return nil
}

func (m *RedisKeyManager) Info() KeyManagerInfo {
	keys, err := m.ListKeys()
	count := 0
	if err == nil {
		count = len(keys)
	}
	return KeyManagerInfo{Backend: "redis", KeyCount: count}
}
