package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpcore/mcpcore/pkg/jsonrpc"
)

// LifecycleState is the per-session protocol state machine:
// uninitialized -> initializing -> initialized -> shutdown.
type LifecycleState int32

const (
	LifecycleUninitialized LifecycleState = iota
	LifecycleInitializing
	LifecycleInitialized
	LifecycleShutdown
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleUninitialized:
		return "uninitialized"
	case LifecycleInitializing:
		return "initializing"
	case LifecycleInitialized:
		return "initialized"
	case LifecycleShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ErrLifecycleViolation is returned when a method is dispatched out of
// the order the MCP lifecycle requires (e.g. tools/call before
// initialize, or any request other than ping after shutdown).
type ErrLifecycleViolation struct {
	State  LifecycleState
	Method string
}

func (e *ErrLifecycleViolation) Error() string {
	return fmt.Sprintf("mcp: method %q not permitted in lifecycle state %s", e.Method, e.State)
}

// Handler serves one JSON-RPC method. ctx carries the session; params is
// the raw params payload. Returning an *jsonrpc.ErrorObject produces a
// JSON-RPC error response; any other non-nil error is wrapped as
// CodeInternalError.
type Handler func(ctx context.Context, session *Session, params json.RawMessage) (any, error)

// Sender delivers a serialized message (request, notification, or
// response) to the peer; implemented by each transport.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// Engine dispatches inbound JSON-RPC messages to registered handlers,
// enforces the lifecycle state machine, and supports server-initiated
// (bidirectional) requests via the correlation map.
type Engine struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	lifecycle atomic.Int32
	corr      *correlationMap
	nextID    atomic.Int64

	defaultTimeout time.Duration
}

// NewEngine builds an Engine with no registered handlers and lifecycle
// state Uninitialized.
func NewEngine(defaultTimeout time.Duration) *Engine {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	e := &Engine{
		handlers:       make(map[string]Handler),
		corr:           newCorrelationMap(),
		defaultTimeout: defaultTimeout,
	}
	e.lifecycle.Store(int32(LifecycleUninitialized))
	return e
}

// Register binds a handler to a method name. "initialize" and
// "shutdown" are handled specially by Dispatch to drive the lifecycle
// state machine, but may still be registered here to supply the actual
// response payload.
func (e *Engine) Register(method string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[method] = h
}

// State returns the current lifecycle state.
func (e *Engine) State() LifecycleState {
	return LifecycleState(e.lifecycle.Load())
}

// generalMethodsAllowed reports whether methods other than
// initialize/notifications-initialized may be dispatched in the current
// state.
func (e *Engine) generalMethodsAllowed() bool {
	return e.State() == LifecycleInitialized
}

// Dispatch routes a single request or notification through the
// lifecycle state machine and the handler table. For a Request it
// returns the *jsonrpc.Response to send back (never nil); for a
// Notification it returns nil (notifications never produce a
// response).
func (e *Engine) Dispatch(ctx context.Context, session *Session, entry jsonrpc.BatchEntry) *jsonrpc.Response {
	if entry.IsNotification() {
		e.dispatchNotification(ctx, session, entry.Notification)
		return nil
	}
	return e.dispatchRequest(ctx, session, entry.Request)
}

func (e *Engine) dispatchRequest(ctx context.Context, session *Session, req *jsonrpc.Request) *jsonrpc.Response {
	method := req.Method

	switch method {
	case "initialize":
		if e.State() != LifecycleUninitialized {
			return errorResponse(req.ID, &jsonrpc.ErrorObject{Code: jsonrpc.CodeInvalidRequest, Message: (&ErrLifecycleViolation{State: e.State(), Method: method}).Error()})
		}
		e.lifecycle.Store(int32(LifecycleInitializing))
	case "ping":
		// allowed before initialized, per the lifecycle's explicit
		// carve-out for initialize/ping.
	default:
		// shutdown is not exempt: before initialized, only
		// initialize/ping may pass.
		if !e.generalMethodsAllowed() {
			return errorResponse(req.ID, &jsonrpc.ErrorObject{Code: jsonrpc.CodeInvalidRequest, Message: (&ErrLifecycleViolation{State: e.State(), Method: method}).Error()})
		}
	}

	e.mu.RLock()
	h, ok := e.handlers[method]
	e.mu.RUnlock()
	if !ok {
		return errorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, fmt.Sprintf("method not found: %s", method), nil))
	}

	result, err := e.invokeHandler(ctx, session, h, req.Params)
	if err != nil {
		if eo, ok := err.(*jsonrpc.ErrorObject); ok {
			return errorResponse(req.ID, eo)
		}
		return errorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), nil))
	}

	if method == "initialize" {
		e.lifecycle.Store(int32(LifecycleInitialized))
	}
	if method == "shutdown" {
		e.lifecycle.Store(int32(LifecycleShutdown))
	}

	raw, merr := json.Marshal(result)
	if merr != nil {
		return errorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, merr.Error(), nil))
	}
	return &jsonrpc.Response{ID: req.ID, Result: raw}
}

func (e *Engine) dispatchNotification(ctx context.Context, session *Session, n *jsonrpc.Notification) {
	if n.Method == "notifications/initialized" {
		return
	}
	if !e.generalMethodsAllowed() {
		return
	}
	e.mu.RLock()
	h, ok := e.handlers[n.Method]
	e.mu.RUnlock()
	if !ok {
		return
	}
	_, _ = e.invokeHandler(ctx, session, h, n.Params)
}

func errorResponse(id jsonrpc.ID, eo *jsonrpc.ErrorObject) *jsonrpc.Response {
	return &jsonrpc.Response{ID: id, Error: eo}
}

// invokeHandler calls h, recovering a panic and mapping it to
// CodeInternalError rather than letting it crash the caller's goroutine.
func (e *Engine) invokeHandler(ctx context.Context, session *Session, h Handler, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = jsonrpc.NewError(jsonrpc.CodeInternalError, fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	return h(ctx, session, params)
}

// SendRequest issues a server-initiated request (sampling/createMessage,
// elicitation/create, roots/list, or a bare ping) over sender and blocks
// until a matching response arrives, ctx is done, or the default
// timeout elapses.
func (e *Engine) SendRequest(ctx context.Context, sender Sender, method string, params any) (*jsonrpc.Response, error) {
	id := jsonrpc.IntID(e.nextID.Add(1))
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal request params: %w", err)
	}
	req := &jsonrpc.Request{ID: id, Method: method, Params: raw}
	wire, err := jsonrpc.Serialize(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: serialize outbound request: %w", err)
	}

	done := e.corr.Register(id, e.defaultTimeout)
	if err := sender.Send(ctx, wire); err != nil {
		e.corr.Cancel(id)
		return nil, fmt.Errorf("mcp: send outbound request: %w", err)
	}

	timer := time.NewTimer(e.defaultTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-done:
		if !ok || resp == nil {
			return nil, ErrRequestTimeout
		}
		return resp, nil
	case <-timer.C:
		e.corr.Cancel(id)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		e.corr.Cancel(id)
		return nil, ctx.Err()
	}
}

// ResolveResponse delivers an inbound response to a pending
// server-initiated request. Reports false if no such request is
// outstanding (unexpected or late response).
func (e *Engine) ResolveResponse(resp *jsonrpc.Response) bool {
	return e.corr.Resolve(resp)
}

// Ping issues a server-initiated ping and reports whether a response
// arrived before the deadline.
func (e *Engine) Ping(ctx context.Context, sender Sender) error {
	_, err := e.SendRequest(ctx, sender, "ping", struct{}{})
	return err
}
