// Package dpop implements RFC 9449 DPoP proof generation and
// validation: key management, proof signing/verification, and replay
// defense via a pluggable nonce tracker.
package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	josejwk "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// Algorithm is a DPoP-allowed JOSE signing algorithm. The "none"
// algorithm and any symmetric algorithm are intentionally
// unrepresentable here.
type Algorithm string

const (
	AlgES256 Algorithm = "ES256"
	AlgRS256 Algorithm = "RS256"
	AlgPS256 Algorithm = "PS256"
)

// DefaultAllowedAlgorithms matches internal/config.DpopConfig's
// default allow-list.
var DefaultAllowedAlgorithms = []Algorithm{AlgES256, AlgRS256, AlgPS256}

// IsAllowed reports whether alg is one of allowed (case-sensitive, per
// RFC 7518 algorithm naming).
func IsAllowed(alg string, allowed []Algorithm) bool {
	for _, a := range allowed {
		if string(a) == alg {
			return true
		}
	}
	return false
}

// KeyPair is a DPoP signing key. PrivateKey may be nil for an
// HSM-backed pair, whose Handle identifies the key inside the HSM and
// whose signing happens via a KeyManager that never exposes the
// private material.
type KeyPair struct {
	ID         string
	Algorithm  Algorithm
	PublicKey  crypto.PublicKey
	PrivateKey crypto.Signer
	Handle     string // opaque HSM session/object handle; empty for non-HSM keys
	Thumbprint string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// PublicJWK renders the key pair's public key as a JSON Web Key map
// suitable for embedding in a DPoP proof header.
func (k *KeyPair) PublicJWK() (map[string]any, error) {
	jwk := josejwk.JSONWebKey{Key: k.PublicKey, Algorithm: string(k.Algorithm), Use: "sig"}
	raw, err := jwk.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("dpop: marshal public jwk: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("dpop: decode public jwk: %w", err)
	}
	// Only the public-facing members belong in a proof header.
	delete(m, "d")
	return m, nil
}

// computeThumbprint derives the RFC 7638 JWK thumbprint (SHA-256,
// base64url-no-pad) of the key pair's public key.
func computeThumbprint(pub crypto.PublicKey, alg Algorithm) (string, error) {
	jwk := josejwk.JSONWebKey{Key: pub, Algorithm: string(alg), Use: "sig"}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("dpop: compute thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// GenerateKeyPair creates a fresh software-backed key pair for alg.
func GenerateKeyPair(alg Algorithm) (*KeyPair, error) {
	var (
		pub  crypto.PublicKey
		priv crypto.Signer
		err  error
	)
	switch alg {
	case AlgES256:
		var k *ecdsa.PrivateKey
		k, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err == nil {
			priv, pub = k, &k.PublicKey
		}
	case AlgRS256, AlgPS256:
		var k *rsa.PrivateKey
		k, err = rsa.GenerateKey(rand.Reader, 2048)
		if err == nil {
			priv, pub = k, &k.PublicKey
		}
	default:
		return nil, fmt.Errorf("dpop: unsupported algorithm %q", alg)
	}
	if err != nil {
		return nil, fmt.Errorf("dpop: generate key: %w", err)
	}

	thumb, err := computeThumbprint(pub, alg)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("dpop: generate key id: %w", err)
	}

	return &KeyPair{
		ID:         id.String(),
		Algorithm:  alg,
		PublicKey:  pub,
		PrivateKey: priv,
		Thumbprint: thumb,
		CreatedAt:  time.Now(),
	}, nil
}

// KeyManagerInfo summarizes a KeyManager's backend and current holdings,
// for diagnostics and health endpoints.
type KeyManagerInfo struct {
	Backend  string
	KeyCount int
}

// KeyManager stores and retrieves DPoP key pairs. Implementations must
// never expose an HSM-backed key's private material; signing for such
// a key is delegated back through the manager via Sign rather than by
// handing out PrivateKey.
type KeyManager interface {
	Store(kp *KeyPair) error
	Get(id string) (*KeyPair, error)
	Delete(id string) error

	// GenerateKeyPair creates and stores a fresh key pair for alg.
	GenerateKeyPair(alg Algorithm) (*KeyPair, error)
	// Sign signs data (a DPoP proof's JWT signing input) with the
	// stored key identified by keyID, hashing internally as the key's
	// algorithm requires. HSM-backed keys resolve this against the
	// HSM session instead of a local crypto.Signer.
	Sign(keyID string, data []byte) ([]byte, error)
	// ListKeys returns every key pair currently held.
	ListKeys() ([]*KeyPair, error)
	// HealthCheck reports whether the backend is reachable/usable.
	HealthCheck() error
	// Info summarizes the backend for diagnostics.
	Info() KeyManagerInfo
}

// signDigest hashes data with SHA-256 and signs it with priv using the
// padding/curve scheme alg requires.
func signDigest(priv crypto.Signer, alg Algorithm, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	switch alg {
	case AlgES256, AlgRS256:
		return priv.Sign(rand.Reader, digest[:], crypto.SHA256)
	case AlgPS256:
		return priv.Sign(rand.Reader, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256})
	default:
		return nil, fmt.Errorf("dpop: unsupported algorithm %q", alg)
	}
}

// MemoryKeyManager is an in-process KeyManager backed by a mutex-guarded
// map; suitable for single-instance deployments and tests.
type MemoryKeyManager struct {
	mu   sync.RWMutex
	keys map[string]*KeyPair
}

// NewMemoryKeyManager builds an empty MemoryKeyManager.
func NewMemoryKeyManager() *MemoryKeyManager {
	return &MemoryKeyManager{keys: make(map[string]*KeyPair)}
}

func (m *MemoryKeyManager) Store(kp *KeyPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[kp.ID] = kp
	return nil
}

// ErrKeyNotFound is returned when no key pair is stored under the
// requested id.
var ErrKeyNotFound = fmt.Errorf("dpop: key not found")

func (m *MemoryKeyManager) Get(id string) (*KeyPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kp, ok := m.keys[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return kp, nil
}

func (m *MemoryKeyManager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, id)
	return nil
}

func (m *MemoryKeyManager) GenerateKeyPair(alg Algorithm) (*KeyPair, error) {
	kp, err := GenerateKeyPair(alg)
	if err != nil {
		return nil, err
	}
	if err := m.Store(kp); err != nil {
		return nil, err
	}
	return kp, nil
}

func (m *MemoryKeyManager) Sign(keyID string, data []byte) ([]byte, error) {
	kp, err := m.Get(keyID)
	if err != nil {
		return nil, err
	}
	if kp.PrivateKey == nil {
		return nil, fmt.Errorf("dpop: key %s has no local signer (HSM-backed keys are not supported by MemoryKeyManager)", keyID)
	}
	return signDigest(kp.PrivateKey, kp.Algorithm, data)
}

func (m *MemoryKeyManager) ListKeys() ([]*KeyPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*KeyPair, 0, len(m.keys))
	for _, kp := range m.keys {
		out = append(out, kp)
	}
	return out, nil
}

func (m *MemoryKeyManager) HealthCheck() error {
	return nil
}

func (m *MemoryKeyManager) Info() KeyManagerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return KeyManagerInfo{Backend: "memory", KeyCount: len(m.keys)}
}

// marshalPrivateKey serializes a software-backed private key to PKCS8
// DER, for storage in a distributed KeyManager backend. HSM-backed
// pairs (Handle != "") have no private material to serialize.
func marshalPrivateKey(priv crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("dpop: marshal private key: %w", err)
	}
	return der, nil
}

func unmarshalPrivateKey(der []byte) (crypto.Signer, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("dpop: parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("dpop: stored key does not implement crypto.Signer")
	}
	return signer, nil
}
