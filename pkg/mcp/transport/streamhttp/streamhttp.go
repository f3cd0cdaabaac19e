// Package streamhttp implements the MCP 2025-06-18 Streamable HTTP
// transport: a single endpoint (default /mcp) serving POST, GET,
// DELETE, and OPTIONS, with Server-Sent Events carrying
// server-initiated messages on the GET stream.
package streamhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/mcpcore/mcpcore/pkg/auth"
	"github.com/mcpcore/mcpcore/pkg/jsonrpc"
	"github.com/mcpcore/mcpcore/pkg/mcp"
	"github.com/mcpcore/mcpcore/pkg/mcp/transport"
	"github.com/mcpcore/mcpcore/pkg/mcpvalidate"
)

const sessionIDHeader = "Mcp-Session-Id"
const protocolVersionHeader = "MCP-Protocol-Version"

// Config controls origin validation, rate limiting, and path binding
// for a Server; it mirrors
// internal/config.StreamHTTPTransportConfig.
type Config struct {
	Path            string
	AllowedOrigins  []string
	AllowLocalhost  bool
	AllowAnyOrigin  bool
	RateLimitRPS    float64
	RateLimitBurst  int
}

// Server wires the Streamable HTTP transport onto an echo.Group,
// dispatching parsed messages through engine and tracking sessions
// through sessions.
type Server struct {
	cfg       Config
	engine    *mcp.Engine
	sessions  *mcp.SessionManager
	validator *mcpvalidate.Validator
	metrics   transport.Metrics

	// Authenticator is nil when auth is disabled (AuthConfig.Enabled
	// == false), in which case every request is dispatched unchecked.
	Authenticator *auth.Authenticator

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	streams   map[string]*sseStream // sessionID -> active GET stream
}

// sseStream is the per-session outbound channel feeding a session's
// open GET connection; Send on the bidirectional wrapper writes here.
type sseStream struct {
	out    chan []byte
	closed chan struct{}
}

// NewServer builds a streamhttp Server bound to engine/sessions.
func NewServer(cfg Config, engine *mcp.Engine, sessions *mcp.SessionManager) *Server {
	if cfg.Path == "" {
		cfg.Path = "/mcp"
	}
	return &Server{
		cfg:       cfg,
		engine:    engine,
		sessions:  sessions,
		validator: mcpvalidate.NewValidator(mcpvalidate.Limits{}),
		limiters:  make(map[string]*rate.Limiter),
		streams:   make(map[string]*sseStream),
	}
}

// Register attaches the transport's routes to e under cfg.Path.
func (s *Server) Register(e *echo.Echo) {
	e.POST(s.cfg.Path, s.handlePost)
	e.GET(s.cfg.Path, s.handleGet)
	e.DELETE(s.cfg.Path, s.handleDelete)
	e.OPTIONS(s.cfg.Path, s.handleOptions)
}

func (s *Server) handleOptions(c echo.Context) error {
	s.applyCORS(c)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) applyCORS(c echo.Context) {
	origin := c.Request().Header.Get("Origin")
	if origin == "" {
		return
	}
	if s.originAllowed(origin) {
		c.Response().Header().Set("Access-Control-Allow-Origin", origin)
		c.Response().Header().Set("Vary", "Origin")
		c.Response().Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Response().Header().Set("Access-Control-Allow-Headers", sessionIDHeader+", "+protocolVersionHeader+", Content-Type, Authorization, DPoP")
	}
}

func (s *Server) originAllowed(origin string) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	if s.cfg.AllowLocalhost && isLocalhostOrigin(origin) {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

func isLocalhostOrigin(origin string) bool {
	for _, host := range []string{"http://localhost", "http://127.0.0.1", "http://[::1]"} {
		if origin == host || strings.HasPrefix(origin, host+":") {
			return true
		}
	}
	return false
}

func (s *Server) rateLimit(ip string) bool {
	if s.cfg.RateLimitRPS <= 0 {
		return true
	}
	s.mu.Lock()
	lim, ok := s.limiters[ip]
	if !ok {
		burst := s.cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(s.cfg.RateLimitRPS), burst)
		s.limiters[ip] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

// handlePost processes a single request/notification/batch per the MCP
// Streamable HTTP POST semantics.
func (s *Server) handlePost(c echo.Context) error {
	s.applyCORS(c)
	req := c.Request()

	origin := req.Header.Get("Origin")
	if origin != "" && !s.originAllowed(origin) {
		return c.NoContent(http.StatusForbidden)
	}
	if !s.rateLimit(c.RealIP()) {
		return c.JSON(http.StatusTooManyRequests, jsonrpc.NewError(jsonrpc.CodeRateLimited, "rate limit exceeded", nil))
	}
	if err := s.authenticate(c); err != nil {
		return s.unauthorized(c, err)
	}

	body := make([]byte, 0)
	buf := make([]byte, 64*1024)
	for {
		n, err := req.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	s.metrics.BytesReceived.Add(int64(len(body)))

	if res, verr := s.validator.ValidateMessage(body); verr != nil {
		return s.writeRPCResponse(c, &jsonrpc.Response{Error: jsonrpc.NewError(jsonrpc.CodeMaxDepthExceeded, verr.Error(), nil)})
	} else if !res.Valid() {
		return s.writeRPCResponse(c, &jsonrpc.Response{Error: jsonrpc.NewError(jsonrpc.CodeInvalidRequest, res.Errors()[0].Message, nil)})
	}

	msg, err := jsonrpc.Parse(body)
	if err != nil {
		return s.writeRPCResponse(c, &jsonrpc.Response{Error: jsonrpc.NewError(jsonrpc.CodeParseError, err.Error(), nil)})
	}
	s.metrics.MessagesReceived.Add(1)

	sess, err := s.resolveSession(c, msg)
	if err != nil {
		if errors.Is(err, mcp.ErrSessionNotFound) || errors.Is(err, mcp.ErrSessionExpired) {
			return c.NoContent(http.StatusNotFound)
		}
		return c.NoContent(http.StatusBadRequest)
	}

	switch {
	case msg.Notification != nil:
		s.engine.Dispatch(req.Context(), sess, jsonrpc.BatchEntry{Notification: msg.Notification})
		return c.NoContent(http.StatusAccepted)

	case msg.Request != nil:
		resp := s.engine.Dispatch(req.Context(), sess, jsonrpc.BatchEntry{Request: msg.Request})
		if msg.Request.Method == "initialize" && sess != nil {
			c.Response().Header().Set(sessionIDHeader, sess.ID)
			c.Response().Header().Set(protocolVersionHeader, "2025-06-18")
		}
		s.metrics.MessagesSent.Add(1)
		return s.writeRPCResponse(c, resp)

	case msg.Batch != nil:
		var responses []*jsonrpc.Response
		for _, entry := range msg.Batch {
			if resp := s.engine.Dispatch(req.Context(), sess, entry); resp != nil {
				responses = append(responses, resp)
			}
		}
		if len(responses) == 0 {
			return c.NoContent(http.StatusAccepted)
		}
		s.metrics.MessagesSent.Add(int64(len(responses)))
		return s.writeRPCBatch(c, responses)

	default:
		return c.NoContent(http.StatusAccepted)
	}
}

// authenticate validates the request's credential when an
// Authenticator is configured; it is a no-op when s.Authenticator is
// nil.
func (s *Server) authenticate(c echo.Context) error {
	if s.Authenticator == nil {
		return nil
	}
	principal, err := s.Authenticator.Authenticate(c.Request())
	if err != nil {
		return err
	}
	c.Set("mcp.principal", principal)
	return nil
}

func (s *Server) unauthorized(c echo.Context, cause error) error {
	c.Response().Header().Set("WWW-Authenticate", `Bearer realm="mcp", error="invalid_token", error_description="`+cause.Error()+`"`)
	return c.NoContent(http.StatusUnauthorized)
}

// writeRPCResponse serializes resp through the wire codec (rather than
// echo's generic JSON encoder) so the "jsonrpc" envelope member is
// always present.
func (s *Server) writeRPCResponse(c echo.Context, resp *jsonrpc.Response) error {
	data, err := jsonrpc.Serialize(resp)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "application/json", data)
}

func (s *Server) writeRPCBatch(c echo.Context, responses []*jsonrpc.Response) error {
	data, err := jsonrpc.SerializeBatchResponses(responses)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "application/json", data)
}

func (s *Server) resolveSession(c echo.Context, msg *jsonrpc.ParsedMessage) (*mcp.Session, error) {
	isInitialize := msg.Request != nil && msg.Request.Method == "initialize"
	sessionID := c.Request().Header.Get(sessionIDHeader)

	if isInitialize {
		return s.sessions.Create(c.RealIP(), c.Request().Header.Get("User-Agent"))
	}
	if sessionID == "" {
		return nil, fmt.Errorf("streamhttp: missing %s header", sessionIDHeader)
	}
	sess, _, err := s.sessions.Validate(sessionID, c.RealIP(), c.Request().Header.Get("User-Agent"))
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// handleGet opens an SSE stream carrying server-initiated messages for
// an existing session.
func (s *Server) handleGet(c echo.Context) error {
	s.applyCORS(c)
	if origin := c.Request().Header.Get("Origin"); origin != "" && !s.originAllowed(origin) {
		return c.NoContent(http.StatusForbidden)
	}
	if err := s.authenticate(c); err != nil {
		return s.unauthorized(c, err)
	}
	sessionID := c.Request().Header.Get(sessionIDHeader)
	if sessionID == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		return c.NoContent(http.StatusNotFound)
	}

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	stream := s.registerStream(sessionID)
	defer s.unregisterStream(sessionID)

	fmt.Fprintf(resp, "event: endpoint\ndata: %s\n\n", s.cfg.Path)
	resp.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	var eventID int64
	for {
		select {
		case data, ok := <-stream.out:
			if !ok {
				return nil
			}
			eventID++
			fmt.Fprintf(resp, "id: %d\nevent: message\ndata: %s\n\n", eventID, data)
			resp.Flush()
			s.metrics.MessagesSent.Add(1)
			s.metrics.BytesSent.Add(int64(len(data)))
		case <-ticker.C:
			fmt.Fprint(resp, ": heartbeat\n\n")
			resp.Flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func (s *Server) registerStream(sessionID string) *sseStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream := &sseStream{out: make(chan []byte, 64), closed: make(chan struct{})}
	s.streams[sessionID] = stream
	return stream
}

func (s *Server) unregisterStream(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stream, ok := s.streams[sessionID]; ok {
		close(stream.closed)
		delete(s.streams, sessionID)
	}
}

// handleDelete terminates a session.
func (s *Server) handleDelete(c echo.Context) error {
	s.applyCORS(c)
	if origin := c.Request().Header.Get("Origin"); origin != "" && !s.originAllowed(origin) {
		return c.NoContent(http.StatusForbidden)
	}
	sessionID := c.Request().Header.Get(sessionIDHeader)
	if sessionID == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	s.sessions.Remove(sessionID)
	return c.NoContent(http.StatusOK)
}

// Sender returns a transport.Sender / mcp.Sender that pushes an
// outbound message onto sessionID's open GET stream, for the engine's
// bidirectional requests. Reports an error if no stream is open.
func (s *Server) Sender(sessionID string) mcp.Sender {
	return &streamSender{server: s, sessionID: sessionID}
}

type streamSender struct {
	server    *Server
	sessionID string
}

func (ss *streamSender) Send(ctx context.Context, data []byte) error {
	ss.server.mu.Lock()
	stream, ok := ss.server.streams[ss.sessionID]
	ss.server.mu.Unlock()
	if !ok {
		return fmt.Errorf("streamhttp: no open stream for session %s", ss.sessionID)
	}
	select {
	case stream.out <- data:
		return nil
	case <-stream.closed:
		return fmt.Errorf("streamhttp: stream closed for session %s", ss.sessionID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Metrics() *transport.Metrics { return &s.metrics }
