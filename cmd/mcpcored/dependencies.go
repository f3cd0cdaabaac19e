package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	gorilla "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mcpcore/mcpcore/internal/config"
	"github.com/mcpcore/mcpcore/internal/logging"
	"github.com/mcpcore/mcpcore/pkg/auth"
	"github.com/mcpcore/mcpcore/pkg/auth/dpop"
	"github.com/mcpcore/mcpcore/pkg/mcp"
	"github.com/mcpcore/mcpcore/pkg/mcp/transport/streamhttp"
	"github.com/mcpcore/mcpcore/pkg/mcp/transport/tcp"
	"github.com/mcpcore/mcpcore/pkg/mcp/transport/unixsocket"
	"github.com/mcpcore/mcpcore/pkg/mcp/transport/websocket"
	"github.com/mcpcore/mcpcore/pkg/mcpvalidate"
	"github.com/mcpcore/mcpcore/pkg/server"
)

// dependencies holds the wired engine, registry, session manager, and
// every transport the configuration enables.
type dependencies struct {
	cfg       *config.Config
	logger    *logging.Logger
	engine    *mcp.Engine
	sessions  *mcp.SessionManager
	registry  *mcp.Registry
	validator *mcpvalidate.Validator

	health *server.Server

	streamHTTP *streamhttp.Server
	tcpSrv     *tcp.Server
	unixSrv    *unixsocket.Server
}

func newDependencies(cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	engine := mcp.NewEngine(30_000_000_000) // 30s timeout for server-initiated requests
	engine.Register("initialize", mcp.NewInitializeHandler(mcp.ServerInfo{Name: "mcpcore", Version: version}, nil))
	engine.Register("shutdown", mcp.NewShutdownHandler())

	registry := mcp.NewRegistry()
	registry.BindEngine(engine)

	sessions := mcp.NewSessionManager(mcp.SessionManagerConfig{
		MaxPerIP:             cfg.Session.MaxPerIP,
		IdleTimeout:          cfg.Session.IdleTimeout,
		MaxLifetime:          cfg.Session.MaxLifetime,
		RegenerationInterval: cfg.Session.RegenerationInterval,
		BindToIP:             cfg.Session.BindToIP,
		BindToUserAgent:      cfg.Session.BindToUserAgent,
	})

	d := &dependencies{
		cfg:       cfg,
		logger:    logger,
		engine:    engine,
		sessions:  sessions,
		registry:  registry,
		validator: mcpvalidate.NewValidator(mcpvalidate.Limits{}),
		health:    server.NewServer(cfg),
	}

	if cfg.Transport.StreamHTTP.Enabled {
		authenticator, err := buildAuthenticator(cfg)
		if err != nil {
			return nil, fmt.Errorf("build authenticator: %w", err)
		}
		rl := cfg.Transport.StreamHTTP.RateLimit
		var rps float64
		if rl.Enabled {
			rps = float64(rl.MaxRequests)
			if rl.Window > 0 {
				rps /= rl.Window.Seconds()
			}
		}
		d.streamHTTP = streamhttp.NewServer(streamhttp.Config{
			Path:           cfg.Transport.StreamHTTP.Path,
			AllowedOrigins: cfg.Transport.StreamHTTP.AllowedOrigins,
			AllowLocalhost: cfg.Transport.StreamHTTP.AllowLocalhost,
			AllowAnyOrigin: cfg.Transport.StreamHTTP.AllowAnyOrigin,
			RateLimitRPS:   rps,
			RateLimitBurst: cfg.Transport.StreamHTTP.RateLimit.MaxRequests,
		}, engine, sessions)
		d.streamHTTP.Authenticator = authenticator
		d.streamHTTP.Register(d.health.Echo())
	}

	if cfg.Transport.TCP.Enabled {
		srv, err := tcp.Listen(cfg.Transport.TCP.Addr)
		if err != nil {
			return nil, fmt.Errorf("listen tcp: %w", err)
		}
		d.tcpSrv = srv
	}

	if cfg.Transport.UnixSocket.Enabled {
		srv, err := unixsocket.Listen(cfg.Transport.UnixSocket.Path)
		if err != nil {
			return nil, fmt.Errorf("listen unix socket: %w", err)
		}
		d.unixSrv = srv
	}

	return d, nil
}

// buildAuthenticator wires an auth.Authenticator from the DPoP and
// auth configuration, or returns nil when auth is disabled.
func buildAuthenticator(cfg *config.Config) (*auth.Authenticator, error) {
	if !cfg.Auth.Enabled {
		return nil, nil
	}

	var tracker dpop.NonceTracker
	var rdb *redis.Client
	if cfg.Dpop.NonceTracker == "redis" || cfg.Dpop.KeyManager == "redis" {
		addr := cfg.Dpop.RedisAddr
		if addr == "" {
			addr = cfg.Auth.RedisAddr
		}
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	}
	if cfg.Dpop.NonceTracker == "redis" {
		tracker = dpop.NewRedisNonceTracker(rdb, "", cfg.Dpop.MaxNonceAge)
	} else {
		tracker = dpop.NewMemoryNonceTracker()
	}

	algs := make([]dpop.Algorithm, 0, len(cfg.Dpop.AllowedAlgorithms))
	for _, a := range cfg.Dpop.AllowedAlgorithms {
		algs = append(algs, dpop.Algorithm(a))
	}

	return auth.NewAuthenticator(auth.ValidationConfig{
		ClockSkew:         cfg.Dpop.ClockSkew,
		ProofLifetime:     cfg.Dpop.ProofLifetime,
		AllowedAlgorithms: algs,
	}, tracker), nil
}

// Serve starts the health listener and every enabled transport,
// blocking until ctx is cancelled or a fatal transport error occurs.
func (d *dependencies) Serve(ctx context.Context) error {
	errCh := make(chan error, 8)
	running := 0

	if d.cfg.Transport.Stdio.Enabled {
		running++
		go func() {
			errCh <- d.serveStdio(ctx)
		}()
	}

	if d.tcpSrv != nil {
		running++
		go func() {
			errCh <- d.tcpSrv.Serve(ctx, d.handleStreamConn)
		}()
	}

	if d.unixSrv != nil {
		running++
		go func() {
			errCh <- d.unixSrv.Serve(ctx, d.handleStreamConn)
		}()
	}

	if d.cfg.Transport.WebSocket.Enabled {
		d.health.Echo().GET(d.cfg.Transport.WebSocket.Path, echo.WrapHandler(http.HandlerFunc(d.handleWebSocketUpgrade)))
	}

	running++
	go func() {
		errCh <- d.health.Start(ctx)
	}()

	var firstErr error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && err != http.ErrServerClosed && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *dependencies) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	upgrader := gorilla.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn(r.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	resolver := websocket.NewEngineResolver(d.engine)
	tr := websocket.New(conn, resolver, d.cfg.Transport.WebSocket.KeepAliveInterval, d.cfg.Transport.WebSocket.ReconnectEnabled)
	if err := tr.Connect(r.Context()); err != nil {
		d.logger.Warn(r.Context(), "websocket connect failed", zap.Error(err))
		return
	}
	sess, err := d.sessions.Create(clientIP(r), r.Header.Get("User-Agent"))
	if err != nil {
		_ = tr.Disconnect(r.Context())
		return
	}
	serveMessageTransport(r.Context(), tr, d.engine, sess, d.validator, d.logger.Underlying())
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
