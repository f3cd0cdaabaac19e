// Package websocket implements the full-duplex WebSocket transport. A
// single reader goroutine is the sole consumer of the socket: it
// either resolves an inbound frame against the correlation map or
// forwards it to the receive channel. This single-consumer rule must
// never be split across two goroutines, or response delivery races with
// plain inbound message delivery.
package websocket

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/mcpcore/mcpcore/pkg/mcp"
	"github.com/mcpcore/mcpcore/pkg/mcp/transport"
)

const defaultMaxMessageSize = 10 * 1024 * 1024

// Resolver matches an inbound frame against the engine's pending
// server-initiated requests, per the single-reader-task invariant: the
// reader loop must consult this before forwarding to the receive
// channel.
type Resolver interface {
	// TryResolve attempts to deliver data as a response to a pending
	// outbound request. Reports whether it was consumed.
	TryResolve(data []byte) bool
}

// Transport wraps a *gorilla.Conn with the transport.Transport
// contract, a keep-alive ping loop, and an atomic reconnectAllowed flag
// that Disconnect clears. The Transport does not reconnect by itself;
// no goroutine of its own reads the flag.
type Transport struct {
	transport.StateMachine
	metrics transport.Metrics

	conn     *gorilla.Conn
	resolver Resolver

	inbound chan transport.Message
	writeMu sync.Mutex

	keepAliveInterval time.Duration
	reconnectEnabled  bool
	reconnectAllowed  atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New wraps conn. keepAliveInterval <= 0 disables the ping loop.
func New(conn *gorilla.Conn, resolver Resolver, keepAliveInterval time.Duration, reconnectEnabled bool) *Transport {
	t := &Transport{
		conn:              conn,
		resolver:          resolver,
		inbound:           make(chan transport.Message, 64),
		keepAliveInterval: keepAliveInterval,
		reconnectEnabled:  reconnectEnabled,
		stopCh:            make(chan struct{}),
	}
	t.reconnectAllowed.Store(reconnectEnabled)
	conn.SetReadLimit(defaultMaxMessageSize)
	return t
}

func (t *Transport) Type() transport.Type { return transport.TypeWebSocket }

func (t *Transport) Capabilities() transport.Capabilities {
	return transport.Capabilities{MaxMessageSize: defaultMaxMessageSize, Bidirectional: true, Streaming: true}
}

func (t *Transport) State() transport.State { return t.Load() }

// Connect starts the single reader goroutine and, if configured, the
// keep-alive ping goroutine.
func (t *Transport) Connect(ctx context.Context) error {
	if !t.CompareAndSwap(transport.StateDisconnected, transport.StateConnecting) {
		return &transport.ErrConnectionFailed{Transport: t.Type(), Err: fmt.Errorf("already connecting or connected")}
	}
	t.Store(transport.StateConnected)

	t.wg.Add(1)
	go t.readLoop()

	if t.keepAliveInterval > 0 {
		t.wg.Add(1)
		go t.keepAliveLoop()
	}
	return nil
}

// Disconnect sets reconnectAllowed false (so ReconnectAllowed reports
// false from then on), closes the socket, and waits for background
// goroutines to exit.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.reconnectAllowed.Store(false)
	t.Store(transport.StateDisconnecting)
	t.stopOnce.Do(func() { close(t.stopCh) })
	_ = t.conn.Close()
	t.wg.Wait()
	t.Store(transport.StateDisconnected)
	return nil
}

// Send writes a single text frame; writes are serialized by writeMu
// since gorilla's Conn forbids concurrent writers.
func (t *Transport) Send(ctx context.Context, msg transport.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(gorilla.TextMessage, msg.Data); err != nil {
		t.metrics.Errors.Add(1)
		return fmt.Errorf("websocket: write: %w", err)
	}
	t.metrics.MessagesSent.Add(1)
	t.metrics.BytesSent.Add(int64(len(msg.Data)))
	return nil
}

// Receive returns the next message not consumed by the correlation
// resolver.
func (t *Transport) Receive(ctx context.Context) (transport.Message, error) {
	select {
	case msg, ok := <-t.inbound:
		if !ok {
			return transport.Message{}, fmt.Errorf("websocket: transport closed")
		}
		return msg, nil
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

func (t *Transport) Metrics() *transport.Metrics { return &t.metrics }

// readLoop is the transport's single consumer of the socket. It never
// shares the read side with any other goroutine.
func (t *Transport) readLoop() {
	defer t.wg.Done()
	defer close(t.inbound)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.metrics.Errors.Add(1)
			t.Store(transport.StateFailed)
			return
		}
		t.metrics.MessagesReceived.Add(1)
		t.metrics.BytesReceived.Add(int64(len(data)))

		if t.resolver != nil && t.resolver.TryResolve(data) {
			continue
		}

		select {
		case t.inbound <- transport.Message{Data: data}:
		case <-t.stopCh:
			return
		}
	}
}

func (t *Transport) keepAliveLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteMessage(gorilla.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				t.metrics.Errors.Add(1)
				return
			}
		case <-t.stopCh:
			return
		}
	}
}

// engineResolver adapts an *mcp.Engine to Resolver by attempting to
// parse data as a jsonrpc.Response and resolving it against the
// engine's correlation map.
type engineResolver struct {
	engine *mcp.Engine
}

// NewEngineResolver builds a Resolver backed by engine's
// ResolveResponse.
func NewEngineResolver(engine *mcp.Engine) Resolver {
	return &engineResolver{engine: engine}
}

func (r *engineResolver) TryResolve(data []byte) bool {
	return tryResolveResponse(r.engine, data)
}

// ReconnectPolicy describes exponential backoff with jitter. It only
// computes delays; the Transport itself does not use it.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// NextDelay computes the backoff delay for the given attempt (0-based),
// capped at MaxDelay and jittered by up to 20%.
func (p ReconnectPolicy) NextDelay(attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	jitterRange := int64(delay) / 5
	if jitterRange <= 0 {
		return delay
	}
	jitter := time.Duration(rand.Int63n(jitterRange))
	return delay + jitter
}

// ReconnectAllowed reports whether the transport's reconnectAllowed
// flag is still set: true after New with reconnectEnabled, false once
// Disconnect has been called.
func (t *Transport) ReconnectAllowed() bool {
	return t.reconnectAllowed.Load()
}
