// Package unixsocket implements the Unix-domain-socket transport,
// sharing newline-delimited JSON framing with the TCP transport via
// streamconn. Socket files are removed and recreated on Listen so a
// stale socket from a prior crashed server doesn't block startup.
package unixsocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/mcpcore/mcpcore/pkg/mcp/transport"
	"github.com/mcpcore/mcpcore/pkg/mcp/transport/streamconn"
)

// ConnHandler is called once per accepted connection.
type ConnHandler func(conn *streamconn.Conn)

// Server accepts Unix-domain connections on a socket path.
type Server struct {
	path string
	ln   net.Listener

	mu     sync.Mutex
	active map[*streamconn.Conn]struct{}
}

// Listen binds the Unix-domain socket at path. If a stale socket file
// already exists at path (no live listener behind it), it is removed
// first.
func Listen(path string) (*Server, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("unixsocket: listen %s: %w", path, err)
	}
	return &Server{path: path, ln: ln, active: make(map[*streamconn.Conn]struct{})}, nil
}

func removeStaleSocket(path string) error {
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unixsocket: stat %s: %w", path, err)
	}
	// A connect attempt against a live socket would succeed; only remove
	// it once we've confirmed nothing is listening.
	if conn, dialErr := net.Dial("unix", path); dialErr == nil {
		conn.Close()
		return fmt.Errorf("unixsocket: %s is already in use by a running server", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("unixsocket: remove stale socket %s: %w", path, err)
	}
	return nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is done or the listener errors.
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
				return fmt.Errorf("unixsocket: accept: %w", err)
			}
		}
		conn := streamconn.New(nc, transport.TypeUnixSocket, 0)
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

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

// Dial connects to a Unix-domain MCP server as a client.
func Dial(ctx context.Context, path string) (*streamconn.Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("unixsocket: dial %s: %w", path, err)
	}
	conn := streamconn.New(nc, transport.TypeUnixSocket, 0)
	if err := conn.Connect(ctx); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return conn, nil
}
