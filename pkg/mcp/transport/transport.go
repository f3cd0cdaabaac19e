// Package transport defines the abstract transport contract shared by
// every concrete MCP transport (stdio, Streamable HTTP, WebSocket, TCP,
// Unix socket): a state machine, capability descriptor, and the
// send/receive surface the protocol engine drives.
package transport

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Type identifies a concrete transport implementation.
type Type int

const (
	TypeStdio Type = iota
	TypeStreamHTTP
	TypeWebSocket
	TypeTCP
	TypeUnixSocket
)

func (t Type) String() string {
	switch t {
	case TypeStdio:
		return "stdio"
	case TypeStreamHTTP:
		return "streamhttp"
	case TypeWebSocket:
		return "websocket"
	case TypeTCP:
		return "tcp"
	case TypeUnixSocket:
		return "unixsocket"
	default:
		return "unknown"
	}
}

// State is the transport connection lifecycle:
// Disconnected -> Connecting -> Connected -> Disconnecting -> Disconnected,
// or -> Failed from any state on an unrecoverable error.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Capabilities describes what a transport implementation supports.
type Capabilities struct {
	MaxMessageSize int
	Bidirectional  bool
	Streaming      bool
}

// ErrConnectionFailed wraps the underlying cause of a failed Connect.
type ErrConnectionFailed struct {
	Transport Type
	Err       error
}

func (e *ErrConnectionFailed) Error() string {
	return fmt.Sprintf("transport: %s connect failed: %v", e.Transport, e.Err)
}
func (e *ErrConnectionFailed) Unwrap() error { return e.Err }

// ErrMessageTooLarge reports an inbound or outbound message exceeding
// the transport's configured max_message_size. The connection remains
// open; the offending message is simply discarded.
type ErrMessageTooLarge struct {
	Transport Type
	Size      int
	Max       int
}

func (e *ErrMessageTooLarge) Error() string {
	return fmt.Sprintf("transport: %s message size %d exceeds max %d", e.Transport, e.Size, e.Max)
}

// ErrProtocolError reports a framing violation on a line-oriented
// transport, such as outbound data containing a literal newline that
// would corrupt the peer's message boundary.
type ErrProtocolError struct {
	Transport Type
	Reason    string
}

func (e *ErrProtocolError) Error() string {
	return fmt.Sprintf("transport: %s protocol error: %s", e.Transport, e.Reason)
}

// Message is one inbound or outbound frame: raw JSON-RPC bytes plus the
// peer metadata a transport can supply (not every transport has an IP
// or session id to offer).
type Message struct {
	Data      []byte
	SessionID string
	RemoteIP  string
}

// Metrics is a set of atomically-updated counters every transport
// exposes identically, independent of wire format.
type Metrics struct {
	MessagesSent     atomic.Int64
	MessagesReceived atomic.Int64
	BytesSent        atomic.Int64
	BytesReceived    atomic.Int64
	Errors           atomic.Int64
	// Dropped counts inbound messages discarded by try-send backpressure
	// when the delivery channel was full.
	Dropped atomic.Int64
}

// Snapshot is a point-in-time copy of Metrics suitable for logging or
// exposition.
type Snapshot struct {
	MessagesSent     int64
	MessagesReceived int64
	BytesSent        int64
	BytesReceived    int64
	Errors           int64
	Dropped          int64
}

// Snapshot reads all counters into a plain struct.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		MessagesSent:     m.MessagesSent.Load(),
		MessagesReceived: m.MessagesReceived.Load(),
		BytesSent:        m.BytesSent.Load(),
		BytesReceived:    m.BytesReceived.Load(),
		Errors:           m.Errors.Load(),
		Dropped:          m.Dropped.Load(),
	}
}

// Transport is the contract every concrete transport implements. Send
// and Receive operate on already-framed JSON-RPC message bytes; framing
// (newline-delimited, SSE, WebSocket frames, length-prefixed) is the
// concrete transport's concern.
type Transport interface {
	Type() Type
	Capabilities() Capabilities
	State() State

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)

	Metrics() *Metrics
}

// StateMachine is an embeddable atomic state holder shared by every
// transport implementation, so each one gets identical, race-free state
// transitions without reimplementing the bookkeeping.
type StateMachine struct {
	state atomic.Int32
}

// Load returns the current state.
func (sm *StateMachine) Load() State { return State(sm.state.Load()) }

// Store unconditionally sets the state.
func (sm *StateMachine) Store(s State) { sm.state.Store(int32(s)) }

// CompareAndSwap atomically transitions from `from` to `to`, reporting
// whether the transition took effect.
func (sm *StateMachine) CompareAndSwap(from, to State) bool {
	return sm.state.CompareAndSwap(int32(from), int32(to))
}
