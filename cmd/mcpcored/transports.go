package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/mcpcore/mcpcore/pkg/mcp/transport/stdio"
	"github.com/mcpcore/mcpcore/pkg/mcp/transport/streamconn"
)

// serveStdio runs the stdio transport against os.Stdin/os.Stdout for
// one locally-spawned session; it returns when the peer closes stdin
// or ctx is cancelled.
func (d *dependencies) serveStdio(ctx context.Context) error {
	tr := stdio.New(os.Stdin, os.Stdout, d.cfg.Transport.Stdio.OutboundBuffer)
	if err := tr.Connect(ctx); err != nil {
		return err
	}
	defer tr.Disconnect(ctx)

	sess, err := d.sessions.Create("stdio", "stdio")
	if err != nil {
		return err
	}
	serveMessageTransport(ctx, tr, d.engine, sess, d.validator, d.logger.Underlying())
	return nil
}

// handleStreamConn drives one accepted TCP or Unix-socket connection;
// it is the shared ConnHandler for both transports' accept loops.
func (d *dependencies) handleStreamConn(conn *streamconn.Conn) {
	ctx := context.Background()
	sess, err := d.sessions.Create(conn.RemoteAddr(), "")
	if err != nil {
		d.logger.Warn(ctx, "session admission refused", zap.Error(err))
		_ = conn.Disconnect(ctx)
		return
	}
	serveMessageTransport(ctx, conn, d.engine, sess, d.validator, d.logger.Underlying())
}
