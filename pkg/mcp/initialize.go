package mcp

import (
	"context"
	"encoding/json"

	"github.com/mcpcore/mcpcore/pkg/jsonrpc"
	"github.com/mcpcore/mcpcore/pkg/mcpvalidate"
)

// ServerInfo identifies this implementation in the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result payload for a successful initialize
// request.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

const negotiatedProtocolVersion = "2025-06-18"

// NewInitializeHandler builds the "initialize" Handler: it validates the
// request shape via mcpvalidate, then returns the negotiated protocol
// version and server capabilities.
func NewInitializeHandler(info ServerInfo, capabilities map[string]any) Handler {
	return func(ctx context.Context, session *Session, params json.RawMessage) (any, error) {
		var p mcpvalidate.InitializeParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid initialize params: "+err.Error(), nil)
		}
		if res := mcpvalidate.ValidateInitialize(p); !res.Valid() {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "initialize validation failed", res.Errors())
		}
		if capabilities == nil {
			capabilities = map[string]any{}
		}
		return InitializeResult{
			ProtocolVersion: negotiatedProtocolVersion,
			Capabilities:    capabilities,
			ServerInfo:      info,
		}, nil
	}
}

// NewShutdownHandler builds the "shutdown" Handler.
func NewShutdownHandler() Handler {
	return func(ctx context.Context, session *Session, params json.RawMessage) (any, error) {
		return map[string]any{}, nil
	}
}
