package mcp

import (
	"fmt"
	"sync"
	"time"

	"github.com/mcpcore/mcpcore/pkg/jsonrpc"
)

// pendingRequest is an outbound (server-initiated) request awaiting a
// client response, matched back by id.
type pendingRequest struct {
	id        jsonrpc.ID
	createdAt time.Time
	deadline  time.Time
	done      chan *jsonrpc.Response
}

// correlationMap tracks the engine's pending server-initiated requests,
// matching inbound responses back to the oneshot channel that's waiting
// on them.
type correlationMap struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest // keyed by id.Raw()
}

func newCorrelationMap() *correlationMap {
	return &correlationMap{pending: make(map[string]*pendingRequest)}
}

// Register creates a pending-request entry and returns the channel that
// will receive the matching response.
func (c *correlationMap) Register(id jsonrpc.ID, timeout time.Duration) <-chan *jsonrpc.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	entry := &pendingRequest{
		id:        id,
		createdAt: now,
		deadline:  now.Add(timeout),
		done:      make(chan *jsonrpc.Response, 1),
	}
	c.pending[id.Raw()] = entry
	return entry.done
}

// Resolve matches an inbound response to its pending entry and delivers
// it, removing the entry. Reports false if no entry was found (late or
// spurious response).
func (c *correlationMap) Resolve(resp *jsonrpc.Response) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := resp.ID.Raw()
	entry, ok := c.pending[key]
	if !ok {
		return false
	}
	delete(c.pending, key)
	entry.done <- resp
	close(entry.done)
	return true
}

// Cancel removes a pending entry without delivering a response, used
// when the caller gives up (context cancellation).
func (c *correlationMap) Cancel(id jsonrpc.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := id.Raw()
	if entry, ok := c.pending[key]; ok {
		delete(c.pending, key)
		close(entry.done)
	}
}

// SweepExpired removes entries past their deadline, closing their
// channels so any waiter unblocks with a zero value.
func (c *correlationMap) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for key, entry := range c.pending {
		if now.After(entry.deadline) {
			delete(c.pending, key)
			close(entry.done)
			removed++
		}
	}
	return removed
}

// ErrRequestTimeout is returned when a bidirectional server-initiated
// request's deadline elapses before a response arrives.
var ErrRequestTimeout = fmt.Errorf("mcp: bidirectional request timed out")
