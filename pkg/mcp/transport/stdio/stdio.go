// Package stdio implements the newline-delimited JSON-RPC transport over
// stdin/stdout, the default transport for a locally-spawned MCP server.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/mcpcore/mcpcore/pkg/mcp/transport"
)

const defaultMaxMessageSize = 10 * 1024 * 1024

// Transport implements transport.Transport over newline-delimited JSON
// on the given reader/writer (normally os.Stdin/os.Stdout). A single
// background goroutine owns the reader; Send writes are serialized
// through outbound, a bounded channel, so concurrent callers never
// interleave partial writes.
type Transport struct {
	transport.StateMachine
	metrics transport.Metrics

	r io.Reader
	w io.Writer

	outbound chan []byte
	inbound  chan transport.Message
	errCh    chan error

	closeOnce sync.Once
	stopCh    chan struct{}
}

// New builds a stdio Transport over r/w with the given outbound buffer
// size (0 uses a sensible default of 1000).
func New(r io.Reader, w io.Writer, outboundBuffer int) *Transport {
	if outboundBuffer <= 0 {
		outboundBuffer = 1000
	}
	return &Transport{
		r:        r,
		w:        w,
		outbound: make(chan []byte, outboundBuffer),
		inbound:  make(chan transport.Message, 64),
		errCh:    make(chan error, 1),
		stopCh:   make(chan struct{}),
	}
}

func (t *Transport) Type() transport.Type { return transport.TypeStdio }

func (t *Transport) Capabilities() transport.Capabilities {
	return transport.Capabilities{MaxMessageSize: defaultMaxMessageSize, Bidirectional: true, Streaming: false}
}

func (t *Transport) State() transport.State { return t.Load() }

// Connect starts the reader and writer goroutines. Calling it while the
// Transport is already connecting or connected returns
// *transport.ErrConnectionFailed.
func (t *Transport) Connect(ctx context.Context) error {
	if !t.CompareAndSwap(transport.StateDisconnected, transport.StateConnecting) {
		return &transport.ErrConnectionFailed{Transport: t.Type(), Err: fmt.Errorf("transport already connecting or connected")}
	}
	go t.readLoop()
	go t.writeLoop()
	t.Store(transport.StateConnected)
	return nil
}

// Disconnect signals both goroutines to stop; the reader exits once its
// current read returns. Safe to call more than once.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.Store(transport.StateDisconnecting)
	t.closeOnce.Do(func() { close(t.stopCh) })
	t.Store(transport.StateDisconnected)
	return nil
}

// Send enqueues a message for the write goroutine. Blocks if the
// outbound buffer is full, bounded by ctx. Rejects data containing a
// literal newline or carriage return, which would corrupt the line
// framing for the peer.
func (t *Transport) Send(ctx context.Context, msg transport.Message) error {
	if bytes.ContainsAny(msg.Data, "\n\r") {
		return &transport.ErrProtocolError{Transport: t.Type(), Reason: "outbound message contains a literal newline or carriage return"}
	}
	select {
	case t.outbound <- msg.Data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopCh:
		return fmt.Errorf("stdio: transport closed")
	}
}

// Receive blocks until the next inbound message, ctx is done, or the
// reader goroutine hits an unrecoverable error.
func (t *Transport) Receive(ctx context.Context) (transport.Message, error) {
	select {
	case msg := <-t.inbound:
		return msg, nil
	case err := <-t.errCh:
		return transport.Message{}, err
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

func (t *Transport) Metrics() *transport.Metrics { return &t.metrics }

func (t *Transport) readLoop() {
	br := bufio.NewReaderSize(t.r, 64*1024)
	for {
		line, tooLarge, err := readFramedLine(br, defaultMaxMessageSize)
		if err != nil {
			if err == io.EOF {
				// EOF: peer closed stdin.
				select {
				case t.errCh <- io.EOF:
				default:
				}
				return
			}
			t.metrics.Errors.Add(1)
			select {
			case t.errCh <- fmt.Errorf("stdio: read error: %w", err):
			default:
			}
			t.Store(transport.StateFailed)
			return
		}
		if tooLarge {
			// MessageTooLarge: the connection stays open, the
			// oversized message is just dropped.
			t.metrics.Errors.Add(1)
			log.Printf("stdio: dropping inbound message exceeding %d bytes", defaultMaxMessageSize)
			continue
		}
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)
		t.metrics.MessagesReceived.Add(1)
		t.metrics.BytesReceived.Add(int64(len(data)))
		select {
		case t.inbound <- transport.Message{Data: data}:
		case <-t.stopCh:
			return
		default:
			// Backpressure: a stalled consumer must not wedge the
			// reader goroutine. Drop the newest message and log.
			t.metrics.Dropped.Add(1)
			log.Printf("stdio: dropping inbound message, inbound channel full")
		}
	}
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

func (t *Transport) writeLoop() {
	for {
		select {
		case data := <-t.outbound:
			if _, err := t.w.Write(append(data, '\n')); err != nil {
				t.metrics.Errors.Add(1)
				t.Store(transport.StateFailed)
				return
			}
			t.metrics.MessagesSent.Add(1)
			t.metrics.BytesSent.Add(int64(len(data)))
		case <-t.stopCh:
			return
		}
	}
}
