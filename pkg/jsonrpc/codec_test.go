package jsonrpc

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestIDRoundTripPreservesType(t *testing.T) {
	cases := []struct {
		name string
		wire string
	}{
		{"string id", `"1"`},
		{"int id", `1`},
		{"negative int", `-7`},
		{"null id", `null`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var id ID
			if err := json.Unmarshal([]byte(tc.wire), &id); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			out, err := json.Marshal(id)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(out) != tc.wire {
				t.Errorf("round trip = %s, want %s", out, tc.wire)
			}
		})
	}
}

func TestIDStringAndIntNeverEqual(t *testing.T) {
	str := StringID("1")
	num := IntID(1)
	if str.Equal(num) {
		t.Error("string id \"1\" must not equal integer id 1")
	}
}

func TestIDRejectsFloat(t *testing.T) {
	var id ID
	err := json.Unmarshal([]byte("1.5"), &id)
	if err == nil {
		t.Fatal("expected error decoding float id, got nil")
	}
}

func TestParseRequest(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping","params":{"a":1}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Request == nil {
		t.Fatal("expected Request, got nil")
	}
	if !msg.Request.ID.IsInt() || msg.Request.ID.Int() != 1 {
		t.Errorf("id = %v, want int 1", msg.Request.ID.Raw())
	}
	if msg.Request.Method != "ping" {
		t.Errorf("method = %q, want ping", msg.Request.Method)
	}
}

func TestParseNotification(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Notification == nil {
		t.Fatal("expected Notification, got nil")
	}
}

func TestParseResponseExactlyOneOfResultOrError(t *testing.T) {
	resp, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if resp.Response == nil || resp.Response.IsError() {
		t.Fatal("expected success response")
	}

	errResp, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"not found"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if errResp.Response == nil || !errResp.Response.IsError() {
		t.Fatal("expected error response")
	}

	_, err = Parse([]byte(`{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":-1,"message":"x"}}`))
	if err == nil {
		t.Fatal("expected error for response with both result and error set")
	}
}

func TestParseEmptyBatchIsInvalidRequest(t *testing.T) {
	_, err := Parse([]byte(`[]`))
	if err == nil {
		t.Fatal("expected error for empty batch")
	}
	var ire *InvalidRequestError
	if !errorsAs(err, &ire) {
		t.Fatalf("expected *InvalidRequestError, got %T: %v", err, err)
	}
}

func TestParseBatchOfNotificationsHasNoResponses(t *testing.T) {
	msg, err := Parse([]byte(`[{"jsonrpc":"2.0","method":"a"},{"jsonrpc":"2.0","method":"b"}]`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(msg.Batch) != 2 {
		t.Fatalf("batch len = %d, want 2", len(msg.Batch))
	}
	var responses []*Response
	for _, entry := range msg.Batch {
		if !entry.IsNotification() {
			t.Fatalf("expected notification entry")
		}
	}
	out, err := SerializeBatchResponses(responses)
	if err != nil {
		t.Fatalf("SerializeBatchResponses: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil output for all-notification batch, got %s", out)
	}
}

func TestParseMixedBatchPreservesOrder(t *testing.T) {
	msg, err := Parse([]byte(`[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","method":"notify"},{"jsonrpc":"2.0","id":"x","method":"b"}]`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(msg.Batch) != 3 {
		t.Fatalf("batch len = %d, want 3", len(msg.Batch))
	}
	if msg.Batch[0].Request == nil || msg.Batch[0].Request.ID.Int() != 1 {
		t.Error("entry 0 should be request id 1")
	}
	if !msg.Batch[1].IsNotification() {
		t.Error("entry 1 should be notification")
	}
	if msg.Batch[2].Request == nil || msg.Batch[2].Request.ID.String() != "x" {
		t.Error("entry 2 should be request id \"x\"")
	}
}

func TestParseRejectsWrongVersion(t *testing.T) {
	_, err := Parse([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	if err == nil {
		t.Fatal("expected error for wrong jsonrpc version")
	}
}

func TestParseRejectsInvalidMethodName(t *testing.T) {
	_, err := Parse([]byte(`{"jsonrpc":"2.0","id":1,"method":"1bad"}`))
	if err == nil {
		t.Fatal("expected error for method name starting with a digit")
	}
}

func TestSerializeNoEmbeddedNewlines(t *testing.T) {
	req := &Request{ID: StringID("id\nwith\rnewlines"), Method: "ping"}
	out, err := Serialize(req)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if bytes.ContainsRune(out, '\n') || bytes.ContainsRune(out, '\r') {
		t.Errorf("serialized output must not contain raw newlines: %q", out)
	}
}

func TestSerializeRequestRoundTrip(t *testing.T) {
	req := &Request{ID: IntID(42), Method: "tools/call", Params: json.RawMessage(`{"name":"x"}`)}
	out, err := Serialize(req)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	msg, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse(Serialize(req)): %v", err)
	}
	if msg.Request == nil || !msg.Request.ID.Equal(IntID(42)) || msg.Request.Method != "tools/call" {
		t.Errorf("round trip mismatch: %+v", msg.Request)
	}
}

// errorsAs is a tiny local helper so this file doesn't need a second
// import alias for errors.As in every call site.
func errorsAs(err error, target any) bool {
	switch t := target.(type) {
	case **InvalidRequestError:
		if ire, ok := err.(*InvalidRequestError); ok {
			*t = ire
			return true
		}
	}
	return false
}
