package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mcpcore/mcpcore/pkg/jsonrpc"
	"github.com/mcpcore/mcpcore/pkg/mcpvalidate"
)

func TestRequestSamplingRejectsInvalidModelPreferences(t *testing.T) {
	e := NewEngine(time.Second)
	sender := &fakeSender{sent: make(chan []byte, 1)}

	bad := 1.5
	_, err := e.RequestSampling(context.Background(), sender, CreateMessageParams{
		Messages:         []SamplingMessage{{Role: "user", Content: mcpvalidate.Content{Type: "text", Text: "hi"}}},
		ModelPreferences: &mcpvalidate.ModelPreferences{CostPriority: &bad},
	})
	if err == nil {
		t.Fatal("expected an error for out-of-range model preference")
	}
}

func TestRequestSamplingValidatesPeerResponseContent(t *testing.T) {
	e := NewEngine(time.Second)
	sender := &fakeSender{sent: make(chan []byte, 1)}

	resultCh := make(chan *CreateMessageResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := e.RequestSampling(context.Background(), sender, CreateMessageParams{
			Messages: []SamplingMessage{{Role: "user", Content: mcpvalidate.Content{Type: "text", Text: "hi"}}},
		})
		resultCh <- result
		errCh <- err
	}()

	wire := <-sender.sent
	msg, err := jsonrpc.Parse(wire)
	if err != nil {
		t.Fatalf("Parse outbound request: %v", err)
	}

	// The peer returns an image content block with no data: invalid.
	badResult, _ := json.Marshal(map[string]any{
		"role":    "assistant",
		"content": map[string]any{"type": "image", "mimeType": "image/png"},
		"model":   "test-model",
	})
	e.ResolveResponse(&jsonrpc.Response{ID: msg.Request.ID, Result: badResult})

	if err := <-errCh; err == nil {
		t.Fatal("expected an error for invalid peer content")
	}
	if result := <-resultCh; result != nil {
		t.Fatal("expected nil result alongside the validation error")
	}
}

func TestRequestElicitationValidatesAgainstSchema(t *testing.T) {
	e := NewEngine(time.Second)
	sender := &fakeSender{sent: make(chan []byte, 1)}

	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
	}

	resultCh := make(chan *mcpvalidate.ElicitationResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := e.RequestElicitation(context.Background(), sender, ElicitRequestParams{
			Message:         "What's your name?",
			RequestedSchema: schema,
		})
		resultCh <- result
		errCh <- err
	}()

	wire := <-sender.sent
	msg, err := jsonrpc.Parse(wire)
	if err != nil {
		t.Fatalf("Parse outbound request: %v", err)
	}

	// "accept" with no content is invalid: content is required.
	badResult, _ := json.Marshal(map[string]any{"action": "accept"})
	e.ResolveResponse(&jsonrpc.Response{ID: msg.Request.ID, Result: badResult})

	if err := <-errCh; err == nil {
		t.Fatal("expected an error for accept with no content")
	}
	if result := <-resultCh; result != nil {
		t.Fatal("expected nil result alongside the validation error")
	}
}
