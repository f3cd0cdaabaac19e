package stdio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mcpcore/mcpcore/pkg/mcp/transport"
)

func TestStdioSendWritesNewlineDelimited(t *testing.T) {
	var out bytes.Buffer
	tr := New(strings.NewReader(""), &out, 0)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect(context.Background())

	if err := tr.Send(context.Background(), transport.Message{Data: []byte(`{"jsonrpc":"2.0","method":"a"}`)}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for out.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !strings.HasSuffix(out.String(), "\n") {
		t.Fatalf("expected newline-terminated output, got %q", out.String())
	}
}

func TestStdioReceiveParsesLines(t *testing.T) {
	in := strings.NewReader("{\"jsonrpc\":\"2.0\",\"method\":\"a\"}\n{\"jsonrpc\":\"2.0\",\"method\":\"b\"}\n")
	tr := New(in, io.Discard, 0)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg1, err := tr.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive 1: %v", err)
	}
	if !strings.Contains(string(msg1.Data), `"method":"a"`) {
		t.Errorf("unexpected msg1: %s", msg1.Data)
	}

	msg2, err := tr.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive 2: %v", err)
	}
	if !strings.Contains(string(msg2.Data), `"method":"b"`) {
		t.Errorf("unexpected msg2: %s", msg2.Data)
	}
}

func TestStdioSendRejectsEmbeddedNewline(t *testing.T) {
	var out bytes.Buffer
	tr := New(strings.NewReader(""), &out, 0)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect(context.Background())

	err := tr.Send(context.Background(), transport.Message{Data: []byte("line one\nline two")})
	if err == nil {
		t.Fatal("expected Send to reject embedded newline")
	}
	var protoErr *transport.ErrProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected *transport.ErrProtocolError, got %T: %v", err, err)
	}
}

func TestStdioReceiveDropsOversizedLineAndKeepsReading(t *testing.T) {
	oversized := strings.Repeat("a", defaultMaxMessageSize+1)
	in := strings.NewReader(oversized + "\n{\"jsonrpc\":\"2.0\",\"method\":\"after\"}\n")
	tr := New(in, io.Discard, 0)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := tr.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !strings.Contains(string(msg.Data), `"method":"after"`) {
		t.Fatalf("expected the oversized line to be skipped, connection to stay open; got %s", msg.Data)
	}
	if tr.State() == transport.StateFailed {
		t.Fatal("transport must remain open after a too-large message")
	}
}

func TestStdioReceiveReportsEOF(t *testing.T) {
	tr := New(strings.NewReader(""), io.Discard, 0)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := tr.Receive(ctx)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
