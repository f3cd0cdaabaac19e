package dpop

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	josejwk "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const proofType = "dpop+jwt"

func signingMethod(alg Algorithm) jwt.SigningMethod {
	switch alg {
	case AlgES256:
		return jwt.SigningMethodES256
	case AlgRS256:
		return jwt.SigningMethodRS256
	case AlgPS256:
		return jwt.SigningMethodPS256
	default:
		return nil
	}
}

// CanonicalHTU strips the query and fragment from u and lowercases the
// scheme/host, preserving an explicit port only when it isn't the
// scheme's default — the htu comparison form RFC 9449 section 4.2
// requires.
func CanonicalHTU(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("dpop: parse htu: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port != "" && port == defaultPortsByScheme[scheme] {
		port = ""
	}
	out := scheme + "://" + host
	if port != "" {
		out += ":" + port
	}
	out += u.EscapedPath()
	return out, nil
}

var defaultPortsByScheme = map[string]string{"http": "80", "https": "443"}

// AccessTokenHash computes the `ath` claim value: base64url(SHA-256(access_token)).
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateProof builds and signs a DPoP proof JWT for one HTTP request.
// rawURL is canonicalized internally (query and fragment stripped)
// before being embedded as htu. The signed compact serialization is
// returned verbatim — it must be cached and reused as-is; re-encoding
// its JSON would reorder map keys and invalidate the signature.
func GenerateProof(kp *KeyPair, htm, rawURL string, accessToken, nonce string) (string, error) {
	method := signingMethod(kp.Algorithm)
	if method == nil {
		return "", fmt.Errorf("dpop: unsupported algorithm %q", kp.Algorithm)
	}
	if kp.PrivateKey == nil {
		return "", fmt.Errorf("dpop: key pair %s has no signer available", kp.ID)
	}

	htu, err := CanonicalHTU(rawURL)
	if err != nil {
		return "", err
	}

	jti, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("dpop: generate jti: %w", err)
	}

	claims := jwt.MapClaims{
		"jti": jti.String(),
		"htm": strings.ToUpper(htm),
		"htu": htu,
		"iat": time.Now().Unix(),
	}
	if accessToken != "" {
		claims["ath"] = AccessTokenHash(accessToken)
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	jwk, err := kp.PublicJWK()
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["typ"] = proofType
	token.Header["jwk"] = jwk

	signed, err := token.SignedString(kp.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("dpop: sign proof: %w", err)
	}
	return signed, nil
}

// ValidationRequest carries the request-side facts a proof is checked
// against.
type ValidationRequest struct {
	Method      string
	URL         string // canonicalized via CanonicalHTU before comparison
	AccessToken string // empty if the request carries no bearer/DPoP token
	Nonce       string // server-issued nonce, if the deployment requires one
}

// ValidationConfig bounds clock skew, proof lifetime, and the allowed
// signing algorithms.
type ValidationConfig struct {
	ClockSkew         time.Duration
	ProofLifetime     time.Duration
	AllowedAlgorithms []Algorithm
}

// Claims is the parsed, validated content of a DPoP proof.
type Claims struct {
	JTI string
	HTM string
	HTU string
	IAT time.Time
	ATH string
}

// ValidateProof runs the RFC 9449 section 4.3 checks, in order, using
// constant-time comparison for every token-derived equality check.
func ValidateProof(proofJWT string, req ValidationRequest, cfg ValidationConfig, tracker NonceTracker) (*Claims, error) {
	allowed := cfg.AllowedAlgorithms
	if len(allowed) == 0 {
		allowed = DefaultAllowedAlgorithms
	}

	token, err := jwt.Parse(proofJWT, func(t *jwt.Token) (any, error) {
		typ, _ := t.Header["typ"].(string)
		if typ != proofType {
			return nil, fmt.Errorf("dpop: typ must be %q, got %q", proofType, typ)
		}
		alg, _ := t.Header["alg"].(string)
		if !IsAllowed(alg, allowed) {
			return nil, fmt.Errorf("dpop: algorithm %q not permitted", alg)
		}
		jwkRaw, ok := t.Header["jwk"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("dpop: missing embedded jwk header")
		}
		return publicKeyFromJWKMap(jwkRaw)
	}, jwt.WithValidMethods(allowedAlgNames(allowed)), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("dpop: verify proof signature: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("dpop: unexpected claims type")
	}

	parsed, err := claimsFromMap(claims)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 60 * time.Second
	}
	lifetime := cfg.ProofLifetime
	if lifetime <= 0 {
		lifetime = 60 * time.Second
	}
	age := now.Sub(parsed.IAT)
	timeDiff := age
	if timeDiff < 0 {
		timeDiff = -timeDiff
	}
	if timeDiff > skew {
		return nil, fmt.Errorf("dpop: iat outside clock skew tolerance")
	}
	if age > lifetime {
		return nil, fmt.Errorf("dpop: proof has expired")
	}

	if subtle.ConstantTimeCompare([]byte(strings.ToUpper(parsed.HTM)), []byte(strings.ToUpper(req.Method))) != 1 {
		return nil, fmt.Errorf("dpop: htm mismatch")
	}
	canonHTU, err := CanonicalHTU(req.URL)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(parsed.HTU), []byte(canonHTU)) != 1 {
		return nil, fmt.Errorf("dpop: htu mismatch")
	}

	if req.AccessToken != "" {
		want := AccessTokenHash(req.AccessToken)
		if parsed.ATH == "" {
			return nil, fmt.Errorf("dpop: access token present but proof carries no ath")
		}
		if subtle.ConstantTimeCompare([]byte(parsed.ATH), []byte(want)) != 1 {
			return nil, fmt.Errorf("dpop: ath mismatch")
		}
	} else if parsed.ATH != "" {
		return nil, fmt.Errorf("dpop: ath present but request carries no access token")
	}

	if req.Nonce != "" {
		nonce, _ := claims["nonce"].(string)
		if subtle.ConstantTimeCompare([]byte(nonce), []byte(req.Nonce)) != 1 {
			return nil, fmt.Errorf("dpop: nonce mismatch")
		}
	}

	if tracker != nil {
		used, err := tracker.IsNonceUsed(parsed.JTI)
		if err != nil {
			return nil, fmt.Errorf("dpop: check nonce replay: %w", err)
		}
		if used {
			return nil, fmt.Errorf("dpop: jti %s already used (replay)", parsed.JTI)
		}
		if err := tracker.TrackNonce(parsed.JTI, parsed.IAT); err != nil {
			return nil, fmt.Errorf("dpop: record nonce: %w", err)
		}
	}

	return &parsed, nil
}

func allowedAlgNames(allowed []Algorithm) []string {
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return names
}

func claimsFromMap(m jwt.MapClaims) (Claims, error) {
	jti, _ := m["jti"].(string)
	htm, _ := m["htm"].(string)
	htu, _ := m["htu"].(string)
	ath, _ := m["ath"].(string)
	if jti == "" || htm == "" || htu == "" {
		return Claims{}, fmt.Errorf("dpop: proof missing required claim")
	}
	iatRaw, ok := m["iat"]
	if !ok {
		return Claims{}, fmt.Errorf("dpop: proof missing iat")
	}
	iatSeconds, ok := iatRaw.(float64)
	if !ok {
		return Claims{}, fmt.Errorf("dpop: iat has unexpected type %T", iatRaw)
	}
	return Claims{
		JTI: jti,
		HTM: htm,
		HTU: htu,
		ATH: ath,
		IAT: time.Unix(int64(iatSeconds), 0),
	}, nil
}

func publicKeyFromJWKMap(m map[string]any) (any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("dpop: re-marshal embedded jwk: %w", err)
	}
	var jwk josejwk.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("dpop: parse embedded jwk: %w", err)
	}
	if !jwk.IsPublic() {
		return nil, fmt.Errorf("dpop: embedded jwk must be a public key")
	}
	return jwk.Key, nil
}
