package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcpcore/mcpcore/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.Transport.Stdio.Enabled = false
	cfg.Transport.StreamHTTP.Enabled = false
	cfg.Transport.WebSocket.Enabled = false
	cfg.Transport.TCP.Enabled = false
	cfg.Transport.UnixSocket.Enabled = false
	return cfg
}

func TestNewDependenciesWithEverythingDisabled(t *testing.T) {
	cfg := testConfig()

	deps, err := newDependencies(cfg, testLogger(t))
	if err != nil {
		t.Fatalf("newDependencies: %v", err)
	}
	if deps.streamHTTP != nil {
		t.Fatal("expected streamHTTP to be nil when disabled")
	}
	if deps.tcpSrv != nil {
		t.Fatal("expected tcpSrv to be nil when disabled")
	}
	if deps.unixSrv != nil {
		t.Fatal("expected unixSrv to be nil when disabled")
	}
	if deps.engine == nil || deps.registry == nil || deps.sessions == nil {
		t.Fatal("expected engine/registry/sessions to be wired regardless of transport config")
	}
}

func TestNewDependenciesWiresStreamHTTPAndAuthenticator(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.StreamHTTP.Enabled = true
	cfg.Transport.StreamHTTP.Addr = ":0"
	cfg.Auth.Enabled = true
	cfg.Dpop.NonceTracker = "memory"
	cfg.Dpop.AllowedAlgorithms = []string{"ES256"}

	deps, err := newDependencies(cfg, testLogger(t))
	if err != nil {
		t.Fatalf("newDependencies: %v", err)
	}
	if deps.streamHTTP == nil {
		t.Fatal("expected streamHTTP to be wired")
	}
	if deps.streamHTTP.Authenticator == nil {
		t.Fatal("expected an authenticator to be wired when auth is enabled")
	}
}

func TestBuildAuthenticatorDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = false

	authn, err := buildAuthenticator(cfg)
	if err != nil {
		t.Fatalf("buildAuthenticator: %v", err)
	}
	if authn != nil {
		t.Fatal("expected a nil authenticator when auth is disabled")
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.5:54321", "203.0.113.5"},
		{"[::1]:8080", "::1"},
		{"not-a-host-port", "not-a-host-port"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.remoteAddr, got, tc.want)
		}
	}
}
