package auth

import (
	"fmt"
	"net/http"

	"github.com/mcpcore/mcpcore/pkg/auth/dpop"
)

// Principal is what a transport learns about the caller of an
// authenticated request: the scheme it arrived under and the token
// the Authorization/X-API-Key header carried. DPoP-bound tokens have
// Confirmed set once the accompanying proof has verified against the
// request's method, URL, and access-token hash.
type Principal struct {
	Scheme    Scheme
	Token     string
	Confirmed bool
}

// Authenticator extracts and, for DPoP, verifies the credential
// carried by an inbound HTTP request. A nil *Authenticator disables
// authentication entirely, matching AuthConfig.Enabled/DpopConfig.Enabled
// being false.
type Authenticator struct {
	DPoP    ValidationConfig
	Tracker dpop.NonceTracker
}

// ValidationConfig mirrors dpop.ValidationConfig so callers outside
// pkg/auth/dpop don't need to import it directly.
type ValidationConfig = dpop.ValidationConfig

// NewAuthenticator builds an Authenticator backed by tracker (nil
// disables replay protection, which is only acceptable for
// single-proof deployments and is otherwise a misconfiguration the
// caller must avoid).
func NewAuthenticator(cfg ValidationConfig, tracker dpop.NonceTracker) *Authenticator {
	return &Authenticator{DPoP: cfg, Tracker: tracker}
}

// ErrUnauthenticated is returned when the request carries no usable
// credential or a DPoP proof that fails verification.
var ErrUnauthenticated = fmt.Errorf("auth: unauthenticated")

// Authenticate inspects req's Authorization/X-API-Key/DPoP headers and
// returns the resolved Principal. A DPoP-scheme Authorization header
// requires a matching "DPoP" proof header verified against req's
// method and URL; any other scheme is returned unconfirmed, leaving
// scope/introspection checks to the caller.
func (a *Authenticator) Authenticate(req *http.Request) (Principal, error) {
	cred := ExtractCredential(req.Header.Get("Authorization"), req.Header.Get("X-API-Key"))
	if cred.Scheme == SchemeNone {
		return Principal{}, ErrUnauthenticated
	}
	if cred.Scheme != SchemeDPoP {
		return Principal{Scheme: cred.Scheme, Token: cred.Token}, nil
	}

	proof := req.Header.Get("DPoP")
	if proof == "" {
		return Principal{}, fmt.Errorf("%w: DPoP scheme requires a DPoP proof header", ErrUnauthenticated)
	}
	vreq := dpop.ValidationRequest{
		Method:      req.Method,
		URL:         requestURL(req),
		AccessToken: cred.Token,
	}
	if _, err := dpop.ValidateProof(proof, vreq, a.DPoP, a.Tracker); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return Principal{Scheme: SchemeDPoP, Token: cred.Token, Confirmed: true}, nil
}

func requestURL(req *http.Request) string {
	scheme := "https"
	if req.TLS == nil {
		scheme = "http"
	}
	if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + req.Host + req.URL.RequestURI()
}
