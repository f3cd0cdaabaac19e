package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/mcpcore/mcpcore/pkg/jsonrpc"
	"github.com/mcpcore/mcpcore/pkg/mcp"
	"github.com/mcpcore/mcpcore/pkg/mcp/transport"
	"github.com/mcpcore/mcpcore/pkg/mcpvalidate"
)

// serveMessageTransport drives one connected, message-oriented
// transport (stdio, a single WebSocket/TCP/Unix-socket connection)
// until ctx is cancelled or the transport fails: receive a frame,
// validate it, dispatch it through engine, send the response back.
//
// Streamable HTTP doesn't use this loop; it dispatches synchronously
// inside its own request handler.
func serveMessageTransport(ctx context.Context, tr transport.Transport, engine *mcp.Engine, sess *mcp.Session, validator *mcpvalidate.Validator, logger *zap.Logger) {
	for {
		msg, err := tr.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Debug("transport receive ended", zap.String("transport", tr.Type().String()), zap.Error(err))
			}
			return
		}

		if validator != nil {
			if resp := validateInbound(validator, msg.Data); resp != nil {
				data, serr := jsonrpc.Serialize(resp)
				if serr != nil {
					logger.Error("marshal validation error response", zap.Error(serr))
					continue
				}
				if err := tr.Send(ctx, transport.Message{Data: data}); err != nil {
					logger.Debug("transport send failed", zap.Error(err))
					return
				}
				continue
			}
		}

		parsed, err := jsonrpc.Parse(msg.Data)
		if err != nil {
			continue
		}

		switch {
		case parsed.Request != nil:
			resp := engine.Dispatch(ctx, sess, jsonrpc.BatchEntry{Request: parsed.Request})
			data, err := jsonrpc.Serialize(resp)
			if err != nil {
				logger.Error("marshal response", zap.Error(err))
				continue
			}
			if err := tr.Send(ctx, transport.Message{Data: data}); err != nil {
				logger.Debug("transport send failed", zap.Error(err))
				return
			}
		case parsed.Notification != nil:
			engine.Dispatch(ctx, sess, jsonrpc.BatchEntry{Notification: parsed.Notification})
		case parsed.Batch != nil:
			for _, entry := range parsed.Batch {
				if resp := engine.Dispatch(ctx, sess, entry); resp != nil {
					data, err := jsonrpc.Serialize(resp)
					if err != nil {
						continue
					}
					if err := tr.Send(ctx, transport.Message{Data: data}); err != nil {
						return
					}
				}
			}
		}
	}
}

// validateInbound runs structural validation ahead of jsonrpc.Parse. It
// returns a ready-to-send error Response when data fails validation, or
// nil when the message passes and dispatch should proceed normally. The
// id is necessarily null: validation runs before the message is even
// known to carry one.
func validateInbound(validator *mcpvalidate.Validator, data []byte) *jsonrpc.Response {
	res, err := validator.ValidateMessage(data)
	if err != nil {
		return &jsonrpc.Response{Error: jsonrpc.NewError(jsonrpc.CodeMaxDepthExceeded, err.Error(), nil)}
	}
	if !res.Valid() {
		issue := res.Errors()[0]
		return &jsonrpc.Response{Error: jsonrpc.NewError(jsonrpc.CodeInvalidRequest, issue.Message, nil)}
	}
	return nil
}
