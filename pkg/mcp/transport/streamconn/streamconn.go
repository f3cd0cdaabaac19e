// Package streamconn provides the newline-delimited JSON framing shared
// by the TCP and Unix-socket transports: the same codec as stdio, laid
// over an arbitrary net.Conn rather than stdin/stdout.
package streamconn

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/mcpcore/mcpcore/pkg/mcp/transport"
)

const defaultMaxMessageSize = 10 * 1024 * 1024

// Conn adapts a single net.Conn (one accepted connection, or a dialed
// client connection) to the transport.Transport contract using
// newline-delimited JSON framing. A single reader goroutine owns the
// conn's read side; Send serializes writes through a bounded channel.
type Conn struct {
	transport.StateMachine
	metrics transport.Metrics

	conn net.Conn
	kind transport.Type

	outbound chan []byte
	inbound  chan transport.Message
	errCh    chan error

	closeOnce sync.Once
	stopCh    chan struct{}
}

// New wraps conn, reporting as transport type kind (TypeTCP or
// TypeUnixSocket) with the given outbound buffer size (0 uses 1000).
func New(conn net.Conn, kind transport.Type, outboundBuffer int) *Conn {
	if outboundBuffer <= 0 {
		outboundBuffer = 1000
	}
	return &Conn{
		conn:     conn,
		kind:     kind,
		outbound: make(chan []byte, outboundBuffer),
		inbound:  make(chan transport.Message, 64),
		errCh:    make(chan error, 1),
		stopCh:   make(chan struct{}),
	}
}

func (c *Conn) Type() transport.Type { return c.kind }

func (c *Conn) Capabilities() transport.Capabilities {
	return transport.Capabilities{MaxMessageSize: defaultMaxMessageSize, Bidirectional: true, Streaming: false}
}

func (c *Conn) State() transport.State { return c.Load() }

// Connect starts the reader/writer goroutines for an already-established
// net.Conn (accepted or dialed by the caller).
func (c *Conn) Connect(ctx context.Context) error {
	if !c.CompareAndSwap(transport.StateDisconnected, transport.StateConnecting) {
		return &transport.ErrConnectionFailed{Transport: c.kind, Err: fmt.Errorf("already connecting or connected")}
	}
	go c.readLoop()
	go c.writeLoop()
	c.Store(transport.StateConnected)
	return nil
}

// Disconnect stops both goroutines and closes the underlying conn; safe
// to call more than once.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.Store(transport.StateDisconnecting)
	c.closeOnce.Do(func() {
		close(c.stopCh)
		_ = c.conn.Close()
	})
	c.Store(transport.StateDisconnected)
	return nil
}

// Send rejects data containing a literal newline or carriage return,
// which would corrupt the line framing for the peer.
func (c *Conn) Send(ctx context.Context, msg transport.Message) error {
	if bytes.ContainsAny(msg.Data, "\n\r") {
		return &transport.ErrProtocolError{Transport: c.kind, Reason: "outbound message contains a literal newline or carriage return"}
	}
	select {
	case c.outbound <- msg.Data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return fmt.Errorf("streamconn: transport closed")
	}
}

func (c *Conn) Receive(ctx context.Context) (transport.Message, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case err := <-c.errCh:
		return transport.Message{}, err
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

func (c *Conn) Metrics() *transport.Metrics { return &c.metrics }

// RemoteAddr exposes the underlying conn's peer address, used for
// per-IP session binding on TCP (not meaningful for Unix sockets).
func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *Conn) readLoop() {
	br := bufio.NewReaderSize(c.conn, 64*1024)
	for {
		line, tooLarge, err := readFramedLine(br, defaultMaxMessageSize)
		if err != nil {
			select {
			case c.errCh <- mapReadErr(err):
			default:
			}
			if err != io.EOF {
				c.metrics.Errors.Add(1)
				c.Store(transport.StateFailed)
			}
			return
		}
		if tooLarge {
			// MessageTooLarge: the connection stays open, the
			// oversized message is just dropped.
			c.metrics.Errors.Add(1)
			log.Printf("streamconn: dropping inbound message exceeding %d bytes", defaultMaxMessageSize)
			continue
		}
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)
		c.metrics.MessagesReceived.Add(1)
		c.metrics.BytesReceived.Add(int64(len(data)))
		select {
		case c.inbound <- transport.Message{Data: data}:
		case <-c.stopCh:
			return
		default:
			// Backpressure: a stalled consumer must not wedge the
			// reader goroutine. Drop the newest message and log.
			c.metrics.Dropped.Add(1)
			log.Printf("streamconn: dropping inbound message, inbound channel full")
		}
	}
}

func mapReadErr(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	return fmt.Errorf("streamconn: read error: %w", err)
}

// readFramedLine reads one newline-delimited message from br. It never
// returns bufio.ErrTooLong: a line exceeding maxSize is fully consumed
// up to its terminator and reported via tooLarge instead, so the
// connection can stay open for the next message.
func readFramedLine(br *bufio.Reader, maxSize int) (data []byte, tooLarge bool, err error) {
	var buf []byte
	total := 0
	for {
		fragment, isPrefix, rerr := br.ReadLine()
		total += len(fragment)
		if total > maxSize {
			tooLarge = true
		} else if len(fragment) > 0 {
			buf = append(buf, fragment...)
		}
		if rerr != nil {
			return nil, false, rerr
		}
		if !isPrefix {
			break
		}
	}
	if tooLarge {
		return nil, true, nil
	}
	return buf, false, nil
}

func (c *Conn) writeLoop() {
	for {
		select {
		case data := <-c.outbound:
			if _, err := c.conn.Write(append(data, '\n')); err != nil {
				c.metrics.Errors.Add(1)
				c.Store(transport.StateFailed)
				return
			}
			c.metrics.MessagesSent.Add(1)
			c.metrics.BytesSent.Add(int64(len(data)))
		case <-c.stopCh:
			return
		}
	}
}
