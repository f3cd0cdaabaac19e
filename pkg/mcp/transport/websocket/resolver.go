package websocket

import (
	"github.com/mcpcore/mcpcore/pkg/jsonrpc"
	"github.com/mcpcore/mcpcore/pkg/mcp"
)

// tryResolveResponse parses data as a JSON-RPC response and, if it
// matches a pending server-initiated request on engine, delivers it and
// reports true. Any other shape (request, notification, parse failure)
// is left for the caller to forward to the inbound channel.
func tryResolveResponse(engine *mcp.Engine, data []byte) bool {
	msg, err := jsonrpc.Parse(data)
	if err != nil || msg.Response == nil {
		return false
	}
	return engine.ResolveResponse(msg.Response)
}
