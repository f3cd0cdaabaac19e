// Package config provides configuration loading for mcpcore.
//
// Configuration is loaded from environment variables and an optional YAML
// file, with sensible defaults. This package covers the server, the
// transport listeners, the OAuth2.1/DPoP auth core, and observability.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete mcpcore configuration.
type Config struct {
	Production    ProductionConfig
	Server        ServerConfig
	Observability ObservabilityConfig
	Transport     TransportConfig
	Auth          AuthConfig
	Dpop          DpopConfig
	Session       SessionConfig
}

// ServerConfig holds HTTP server configuration for the management/health
// listener. mcpcored also registers the Streamable HTTP and WebSocket
// routes on this listener.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry   bool   `koanf:"enable_telemetry"`
	ServiceName       string `koanf:"service_name"`
	OTLPEndpoint      string `koanf:"otlp_endpoint"`        // OTLP endpoint (default: localhost:4317)
	OTLPProtocol      string `koanf:"otlp_protocol"`        // "grpc" or "http/protobuf" (default: grpc)
	OTLPInsecure      bool   `koanf:"otlp_insecure"`        // Use insecure connection (default: true for localhost)
	OTLPTLSSkipVerify bool   `koanf:"otlp_tls_skip_verify"` // Skip TLS verification for internal CAs
}

// TransportConfig controls which transports are enabled and how each one
// is bound.
type TransportConfig struct {
	Stdio      StdioTransportConfig      `koanf:"stdio"`
	StreamHTTP StreamHTTPTransportConfig `koanf:"stream_http"`
	WebSocket  WebSocketTransportConfig  `koanf:"websocket"`
	TCP        TCPTransportConfig        `koanf:"tcp"`
	UnixSocket UnixSocketTransportConfig `koanf:"unix_socket"`
}

// StdioTransportConfig configures the newline-delimited JSON stdio transport.
type StdioTransportConfig struct {
	Enabled        bool `koanf:"enabled"`
	OutboundBuffer int  `koanf:"outbound_buffer"` // bounded channel size, default 1000
}

// StreamHTTPTransportConfig configures the Streamable HTTP transport
// (MCP 2025-06-18): a single /mcp endpoint serving POST/GET/DELETE/OPTIONS.
type StreamHTTPTransportConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Addr            string        `koanf:"addr"` // e.g. ":8443"
	Path            string        `koanf:"path"` // default "/mcp"
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	AllowLocalhost  bool          `koanf:"allow_localhost"`
	AllowAnyOrigin  bool          `koanf:"allow_any_origin"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimit       RateLimitConfig
}

// WebSocketTransportConfig configures the WebSocket transport.
type WebSocketTransportConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Addr              string        `koanf:"addr"`
	Path              string        `koanf:"path"`
	KeepAliveInterval time.Duration `koanf:"keepalive_interval"`
	ReconnectEnabled  bool          `koanf:"reconnect_enabled"`
	RateLimit         RateLimitConfig
}

// TCPTransportConfig configures the raw TCP stream transport.
type TCPTransportConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// UnixSocketTransportConfig configures the Unix domain socket transport.
type UnixSocketTransportConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// RateLimitConfig controls the per-IP token-bucket rate limiter applied
// to the Streamable HTTP transport's security gate: MaxRequests per
// Window, with a burst of MaxRequests. The WebSocket transport's
// RateLimit is not read.
type RateLimitConfig struct {
	Enabled     bool          `koanf:"enabled"`
	MaxRequests int           `koanf:"max_requests"`
	Window      time.Duration `koanf:"window"`
}

// AuthConfig holds the OAuth 2.1 + PKCE + Resource Indicators + Dynamic
// Client Registration configuration.
type AuthConfig struct {
	Enabled               bool          `koanf:"enabled"`
	Issuer                string        `koanf:"issuer"`
	AuthorizationEndpoint string        `koanf:"authorization_endpoint"`
	TokenEndpoint         string        `koanf:"token_endpoint"`
	RegistrationEndpoint  string        `koanf:"registration_endpoint"`
	ResourceIdentifier    string        `koanf:"resource_identifier"` // RFC 8707 canonical resource URI
	RedirectURIs          []string      `koanf:"redirect_uris"`
	Scopes                []string      `koanf:"scopes"`
	ClientID              string        `koanf:"client_id"`
	ClientSecret          Secret        `koanf:"client_secret"`
	PendingAuthTTL        time.Duration `koanf:"pending_auth_ttl"` // default 10m
	TokenStorage          string        `koanf:"token_storage"`    // "memory" or "redis"
	RedisAddr             string        `koanf:"redis_addr"`
}

// DpopConfig controls DPoP (RFC 9449) proof validation.
type DpopConfig struct {
	Enabled           bool          `koanf:"enabled"`
	ProofLifetime     time.Duration `koanf:"proof_lifetime"` // default 60s
	ClockSkew         time.Duration `koanf:"clock_skew"`     // default 60s
	NonceTracker      string        `koanf:"nonce_tracker"`  // "memory" or "redis"
	KeyManager        string        `koanf:"key_manager"`    // "memory" or "redis"
	RedisAddr         string        `koanf:"redis_addr"`
	MaxNonceAge       time.Duration `koanf:"max_nonce_age"` // nonce cleanup horizon
	AllowedAlgorithms []string      `koanf:"allowed_algorithms"` // default ES256, RS256, PS256
}

// SessionConfig controls MCP session lifecycle limits.
type SessionConfig struct {
	MaxPerIP             int           `koanf:"max_per_ip"`
	IdleTimeout          time.Duration `koanf:"idle_timeout"`
	MaxLifetime          time.Duration `koanf:"max_lifetime"`
	RegenerationInterval time.Duration `koanf:"regeneration_interval"`
	BindToIP             bool          `koanf:"bind_to_ip"`
	BindToUserAgent      bool          `koanf:"bind_to_user_agent"`
}

// ProductionConfig holds production deployment configuration.
type ProductionConfig struct {
	// Enabled indicates whether production mode is active.
	Enabled bool `koanf:"enabled"`

	// LocalModeAcknowledged allows development features in production mode.
	// Use only for local development/testing.
	LocalModeAcknowledged bool `koanf:"local_mode_acknowledged"`

	// RequireAuthentication enforces authentication in production.
	RequireAuthentication bool `koanf:"require_authentication"`

	// AuthenticationConfigured indicates if auth is properly set up.
	AuthenticationConfigured bool `koanf:"authentication_configured"`

	// RequireTLS enforces TLS for external listeners.
	RequireTLS bool `koanf:"require_tls"`

	// AllowNoIsolation permits NoIsolation mode (testing only).
	AllowNoIsolation bool `koanf:"allow_no_isolation"`
}

// IsProduction returns true if running in production mode.
func (c *ProductionConfig) IsProduction() bool {
	return c.Enabled
}

// IsLocal returns true if local mode is acknowledged.
func (c *ProductionConfig) IsLocal() bool {
	return c.LocalModeAcknowledged
}

// Validate checks production configuration for security issues.
func (c *ProductionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.AllowNoIsolation {
		return fmt.Errorf("SECURITY: NoIsolation mode cannot be enabled in production")
	}

	if c.RequireAuthentication && !c.AuthenticationConfigured {
		return fmt.Errorf("SECURITY: RequireAuthentication enabled but authentication not configured")
	}

	return nil
}

// Load loads configuration from environment variables with defaults.
//
// All environment variables:
//
// Server:
//   - SERVER_PORT: management HTTP server port (default: 9090)
//   - SERVER_SHUTDOWN_TIMEOUT: graceful shutdown timeout (default: 10s)
//
// Transport:
//   - TRANSPORT_STDIO_ENABLED (default: true)
//   - TRANSPORT_STREAMHTTP_ENABLED, TRANSPORT_STREAMHTTP_ADDR (default: ":8443")
//   - TRANSPORT_WEBSOCKET_ENABLED, TRANSPORT_WEBSOCKET_ADDR
//   - TRANSPORT_TCP_ENABLED, TRANSPORT_TCP_ADDR
//   - TRANSPORT_UNIXSOCKET_ENABLED, TRANSPORT_UNIXSOCKET_PATH
//
// Auth:
//   - AUTH_ENABLED, AUTH_ISSUER, AUTH_RESOURCE_IDENTIFIER
//   - AUTH_TOKEN_STORAGE: memory or redis (default: memory)
//
// DPoP:
//   - DPOP_ENABLED, DPOP_PROOF_LIFETIME (default: 60s), DPOP_CLOCK_SKEW (default: 60s)
//   - DPOP_NONCE_TRACKER, DPOP_KEY_MANAGER: memory or redis (default: memory)
//
// Session:
//   - SESSION_MAX_PER_IP (default: 64)
//   - SESSION_IDLE_TIMEOUT (default: 30m)
//   - SESSION_MAX_LIFETIME (default: 24h)
//
// Telemetry:
//   - OTEL_ENABLE: Enable OpenTelemetry (default: false, requires OTEL collector)
//   - OTEL_SERVICE_NAME: Service name for traces (default: mcpcore)
func Load() *Config {
	cfg := &Config{
		Production: loadProductionConfig(),
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 9090),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("OTEL_ENABLE", false),
			ServiceName:     getEnvString("OTEL_SERVICE_NAME", "mcpcore"),
		},
		Transport: TransportConfig{
			Stdio: StdioTransportConfig{
				Enabled:        getEnvBool("TRANSPORT_STDIO_ENABLED", true),
				OutboundBuffer: getEnvInt("TRANSPORT_STDIO_OUTBOUND_BUFFER", 1000),
			},
			StreamHTTP: StreamHTTPTransportConfig{
				Enabled:         getEnvBool("TRANSPORT_STREAMHTTP_ENABLED", true),
				Addr:            getEnvString("TRANSPORT_STREAMHTTP_ADDR", ":8443"),
				Path:            getEnvString("TRANSPORT_STREAMHTTP_PATH", "/mcp"),
				AllowedOrigins:  getEnvStringSlice("TRANSPORT_STREAMHTTP_ALLOWED_ORIGINS", nil),
				AllowLocalhost:  getEnvBool("TRANSPORT_STREAMHTTP_ALLOW_LOCALHOST", true),
				AllowAnyOrigin:  getEnvBool("TRANSPORT_STREAMHTTP_ALLOW_ANY_ORIGIN", false),
				ShutdownTimeout: getEnvDuration("TRANSPORT_STREAMHTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
				RateLimit: RateLimitConfig{
					Enabled:     getEnvBool("TRANSPORT_STREAMHTTP_RATELIMIT_ENABLED", true),
					MaxRequests: getEnvInt("TRANSPORT_STREAMHTTP_RATELIMIT_MAX", 100),
					Window:      getEnvDuration("TRANSPORT_STREAMHTTP_RATELIMIT_WINDOW", time.Minute),
				},
			},
			WebSocket: WebSocketTransportConfig{
				Enabled:           getEnvBool("TRANSPORT_WEBSOCKET_ENABLED", false),
				Addr:              getEnvString("TRANSPORT_WEBSOCKET_ADDR", ":8444"),
				Path:              getEnvString("TRANSPORT_WEBSOCKET_PATH", "/ws"),
				KeepAliveInterval: getEnvDuration("TRANSPORT_WEBSOCKET_KEEPALIVE_INTERVAL", 30*time.Second),
				ReconnectEnabled:  getEnvBool("TRANSPORT_WEBSOCKET_RECONNECT_ENABLED", true),
				RateLimit: RateLimitConfig{
					Enabled:     getEnvBool("TRANSPORT_WEBSOCKET_RATELIMIT_ENABLED", true),
					MaxRequests: getEnvInt("TRANSPORT_WEBSOCKET_RATELIMIT_MAX", 100),
					Window:      getEnvDuration("TRANSPORT_WEBSOCKET_RATELIMIT_WINDOW", time.Minute),
				},
			},
			TCP: TCPTransportConfig{
				Enabled: getEnvBool("TRANSPORT_TCP_ENABLED", false),
				Addr:    getEnvString("TRANSPORT_TCP_ADDR", ":8445"),
			},
			UnixSocket: UnixSocketTransportConfig{
				Enabled: getEnvBool("TRANSPORT_UNIXSOCKET_ENABLED", false),
				Path:    getEnvString("TRANSPORT_UNIXSOCKET_PATH", "/run/mcpcore/mcpcore.sock"),
			},
		},
		Auth: AuthConfig{
			Enabled:               getEnvBool("AUTH_ENABLED", false),
			Issuer:                getEnvString("AUTH_ISSUER", ""),
			AuthorizationEndpoint: getEnvString("AUTH_AUTHORIZATION_ENDPOINT", ""),
			TokenEndpoint:         getEnvString("AUTH_TOKEN_ENDPOINT", ""),
			RegistrationEndpoint:  getEnvString("AUTH_REGISTRATION_ENDPOINT", ""),
			ResourceIdentifier:    getEnvString("AUTH_RESOURCE_IDENTIFIER", ""),
			RedirectURIs:          getEnvStringSlice("AUTH_REDIRECT_URIS", nil),
			Scopes:                getEnvStringSlice("AUTH_SCOPES", []string{"mcp"}),
			ClientID:              getEnvString("AUTH_CLIENT_ID", ""),
			ClientSecret:          Secret(getEnvString("AUTH_CLIENT_SECRET", "")),
			PendingAuthTTL:        getEnvDuration("AUTH_PENDING_AUTH_TTL", 10*time.Minute),
			TokenStorage:          getEnvString("AUTH_TOKEN_STORAGE", "memory"),
			RedisAddr:             getEnvString("AUTH_REDIS_ADDR", "localhost:6379"),
		},
		Dpop: DpopConfig{
			Enabled:           getEnvBool("DPOP_ENABLED", false),
			ProofLifetime:     getEnvDuration("DPOP_PROOF_LIFETIME", 60*time.Second),
			ClockSkew:         getEnvDuration("DPOP_CLOCK_SKEW", 60*time.Second),
			NonceTracker:      getEnvString("DPOP_NONCE_TRACKER", "memory"),
			KeyManager:        getEnvString("DPOP_KEY_MANAGER", "memory"),
			RedisAddr:         getEnvString("DPOP_REDIS_ADDR", "localhost:6379"),
			MaxNonceAge:       getEnvDuration("DPOP_MAX_NONCE_AGE", 5*time.Minute),
			AllowedAlgorithms: getEnvStringSlice("DPOP_ALLOWED_ALGORITHMS", []string{"ES256", "RS256", "PS256"}),
		},
		Session: SessionConfig{
			MaxPerIP:             getEnvInt("SESSION_MAX_PER_IP", 64),
			IdleTimeout:          getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			MaxLifetime:          getEnvDuration("SESSION_MAX_LIFETIME", 24*time.Hour),
			RegenerationInterval: getEnvDuration("SESSION_REGENERATION_INTERVAL", time.Hour),
			BindToIP:             getEnvBool("SESSION_BIND_TO_IP", true),
			BindToUserAgent:      getEnvBool("SESSION_BIND_TO_USER_AGENT", true),
		},
	}

	return cfg
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Service name is empty (when telemetry is enabled)
//   - Auth is enabled but the resource identifier or issuer is missing/invalid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if c.Transport.StreamHTTP.Enabled {
		if err := validateListenAddr(c.Transport.StreamHTTP.Addr); err != nil {
			return fmt.Errorf("invalid TRANSPORT_STREAMHTTP_ADDR: %w", err)
		}
	}
	if c.Transport.WebSocket.Enabled {
		if err := validateListenAddr(c.Transport.WebSocket.Addr); err != nil {
			return fmt.Errorf("invalid TRANSPORT_WEBSOCKET_ADDR: %w", err)
		}
	}
	if c.Transport.TCP.Enabled {
		if err := validateListenAddr(c.Transport.TCP.Addr); err != nil {
			return fmt.Errorf("invalid TRANSPORT_TCP_ADDR: %w", err)
		}
	}

	if c.Auth.Enabled {
		if c.Auth.ResourceIdentifier == "" {
			return errors.New("AUTH_RESOURCE_IDENTIFIER is required when auth is enabled")
		}
		if err := validateURL(c.Auth.ResourceIdentifier); err != nil {
			return fmt.Errorf("invalid AUTH_RESOURCE_IDENTIFIER: %w", err)
		}
		if c.Auth.Issuer == "" {
			return errors.New("AUTH_ISSUER is required when auth is enabled")
		}
		for _, r := range c.Auth.RedirectURIs {
			if err := validateURL(r); err != nil {
				return fmt.Errorf("invalid redirect URI %q: %w", r, err)
			}
		}
		switch c.Auth.TokenStorage {
		case "memory", "redis":
		default:
			return fmt.Errorf("invalid AUTH_TOKEN_STORAGE: %q (must be 'memory' or 'redis')", c.Auth.TokenStorage)
		}
	}

	if c.Dpop.Enabled {
		if c.Dpop.ProofLifetime <= 0 {
			return errors.New("DPOP_PROOF_LIFETIME must be positive")
		}
		switch c.Dpop.NonceTracker {
		case "memory", "redis":
		default:
			return fmt.Errorf("invalid DPOP_NONCE_TRACKER: %q (must be 'memory' or 'redis')", c.Dpop.NonceTracker)
		}
		switch c.Dpop.KeyManager {
		case "memory", "redis":
		default:
			return fmt.Errorf("invalid DPOP_KEY_MANAGER: %q (must be 'memory' or 'redis')", c.Dpop.KeyManager)
		}
	}

	if c.Session.MaxPerIP < 0 {
		return fmt.Errorf("SESSION_MAX_PER_IP must be non-negative, got %d", c.Session.MaxPerIP)
	}

	if err := c.Production.Validate(); err != nil {
		return fmt.Errorf("production config validation failed: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := make([]string, 0)
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

// loadProductionConfig loads production configuration from environment variables.
func loadProductionConfig() ProductionConfig {
	prodMode := getEnvBool("CONTEXTD_PRODUCTION_MODE", false)
	localMode := getEnvBool("CONTEXTD_LOCAL_MODE", false)

	return ProductionConfig{
		Enabled:               prodMode,
		LocalModeAcknowledged: localMode,
		RequireAuthentication: getEnvBool("CONTEXTD_REQUIRE_AUTH", prodMode && !localMode),
		RequireTLS:            getEnvBool("CONTEXTD_REQUIRE_TLS", prodMode && !localMode),
		AllowNoIsolation:      false,
	}
}

// validateHostname checks if a hostname is safe (no command injection attempts).
func validateHostname(host string) error {
	if host == "" {
		return nil
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %s", host)
	}

	invalidChars := []string{";", "\n", "\r", "$", "`", "|", "&", "<", ">", "(", ")"}
	for _, char := range invalidChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("invalid hostname: contains forbidden character %q", char)
		}
	}
	return nil
}

// validateListenAddr checks a "host:port" bind address.
func validateListenAddr(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be host:port: %w", err)
	}
	if host != "" {
		if err := validateHostname(host); err != nil {
			return err
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", portStr)
	}
	return nil
}

// validateURL checks if a URL uses allowed schemes (http/https only).
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}
