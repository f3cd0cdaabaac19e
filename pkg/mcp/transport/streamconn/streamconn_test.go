package streamconn

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/mcpcore/mcpcore/pkg/mcp/transport"
)

func TestConnSendReceiveRoundTrip(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	t.Cleanup(func() { serverNC.Close(); clientNC.Close() })

	server := New(serverNC, transport.TypeTCP, 0)
	if err := server.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer server.Disconnect(context.Background())

	go func() {
		clientNC.Write([]byte(`{"jsonrpc":"2.0","method":"ping"}` + "\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(msg.Data) != `{"jsonrpc":"2.0","method":"ping"}` {
		t.Errorf("unexpected message: %s", msg.Data)
	}
}

func TestConnSendWritesNewlineDelimited(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	t.Cleanup(func() { serverNC.Close(); clientNC.Close() })

	server := New(serverNC, transport.TypeTCP, 0)
	if err := server.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer server.Disconnect(context.Background())

	if err := server.Send(context.Background(), transport.Message{Data: []byte("hello")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 16)
	clientNC.SetReadDeadline(time.Now().Add(time.Second))
	n, err := clientNC.Read(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buf[:n]) != "hello\n" {
		t.Errorf("got %q, want %q", buf[:n], "hello\n")
	}
}

func TestConnSendRejectsEmbeddedNewline(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	t.Cleanup(func() { serverNC.Close(); clientNC.Close() })

	server := New(serverNC, transport.TypeTCP, 0)
	if err := server.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer server.Disconnect(context.Background())

	err := server.Send(context.Background(), transport.Message{Data: []byte("line one\nline two")})
	if err == nil {
		t.Fatal("expected Send to reject embedded newline")
	}
	var protoErr *transport.ErrProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected *transport.ErrProtocolError, got %T: %v", err, err)
	}
}

func TestConnReceiveDropsOversizedLineAndKeepsOpen(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	t.Cleanup(func() { serverNC.Close(); clientNC.Close() })

	server := New(serverNC, transport.TypeTCP, 0)
	if err := server.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer server.Disconnect(context.Background())

	oversized := strings.Repeat("a", defaultMaxMessageSize+1)
	go func() {
		clientNC.Write([]byte(oversized + "\n"))
		clientNC.Write([]byte(`{"jsonrpc":"2.0","method":"after"}` + "\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(msg.Data) != `{"jsonrpc":"2.0","method":"after"}` {
		t.Fatalf("expected the oversized line to be skipped, connection to stay open; got %s", msg.Data)
	}
	if server.State() == transport.StateFailed {
		t.Fatal("connection must remain open after a too-large message")
	}
}

func TestConnDisconnectIsIdempotent(t *testing.T) {
	serverNC, clientNC := net.Pipe()
	t.Cleanup(func() { clientNC.Close() })

	server := New(serverNC, transport.TypeTCP, 0)
	if err := server.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := server.Disconnect(context.Background()); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := server.Disconnect(context.Background()); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if server.State() != transport.StateDisconnected {
		t.Fatalf("expected disconnected, got %s", server.State())
	}
}
