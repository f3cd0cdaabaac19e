// Package tcp implements the TCP transport: a newline-delimited
// JSON-RPC stream accepted over a plain TCP listener, sharing framing
// logic with the Unix-socket transport via streamconn.
package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/mcpcore/mcpcore/pkg/mcp/transport"
	"github.com/mcpcore/mcpcore/pkg/mcp/transport/streamconn"
)

// ConnHandler is called once per accepted connection with its
// transport.Transport wrapper, so the caller can wire it into an
// engine/session the same way any other transport connects.
type ConnHandler func(conn *streamconn.Conn)

// Server accepts TCP connections on a listener and hands each one to a
// ConnHandler as a streamconn.Conn.
type Server struct {
	ln net.Listener

	mu     sync.Mutex
	active map[*streamconn.Conn]struct{}
}

// Listen binds addr (host:port) and returns a Server ready to Serve.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	return &Server{ln: ln, active: make(map[*streamconn.Conn]struct{})}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is done or the listener errors,
// invoking handler for each. Blocks until Close or ctx cancellation.
func (s *Server) Serve(ctx context.Context, handler ConnHandler) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("tcp: accept: %w", err)
			}
		}
		conn := streamconn.New(nc, transport.TypeTCP, 0)
		s.track(conn)
		if err := conn.Connect(ctx); err != nil {
			s.untrack(conn)
			_ = nc.Close()
			continue
		}
		go handler(conn)
	}
}

func (s *Server) track(c *streamconn.Conn) {
	s.mu.Lock()
	s.active[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *streamconn.Conn) {
	s.mu.Lock()
	delete(s.active, c)
	s.mu.Unlock()
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Dial connects to a TCP MCP server as a client.
func Dial(ctx context.Context, addr string) (*streamconn.Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	conn := streamconn.New(nc, transport.TypeTCP, 0)
	if err := conn.Connect(ctx); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return conn, nil
}
