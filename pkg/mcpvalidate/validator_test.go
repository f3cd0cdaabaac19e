package mcpvalidate

import (
	"bytes"
	"strings"
	"testing"
)

func TestValidateMessageRejectsOversized(t *testing.T) {
	v := NewValidator(Limits{MaxMessageSize: 10})
	res, err := v.ValidateMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid() {
		t.Fatal("expected oversized message to be invalid")
	}
}

func TestValidateMessageRejectsEmptyBatch(t *testing.T) {
	v := NewValidator(Limits{})
	res, err := v.ValidateMessage([]byte(`[]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid() {
		t.Fatal("expected empty batch to be invalid")
	}
}

func TestValidateMessageRejectsOversizedBatch(t *testing.T) {
	v := NewValidator(Limits{MaxBatchSize: 2})
	msg := []byte(`[{"jsonrpc":"2.0","method":"a"},{"jsonrpc":"2.0","method":"b"},{"jsonrpc":"2.0","method":"c"}]`)
	res, err := v.ValidateMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid() {
		t.Fatal("expected batch over MaxBatchSize to be invalid")
	}
}

func TestValidateMessageEnforcesMaxDepth(t *testing.T) {
	v := NewValidator(Limits{MaxDepth: 3})
	deep := bytes.Repeat([]byte(`{"a":`), 10)
	msg := append(deep, []byte("1")...)
	for i := 0; i < 10; i++ {
		msg = append(msg, '}')
	}
	res, err := v.ValidateMessage(msg)
	if err == nil {
		t.Fatal("expected ErrMaxDepthExceeded wrapped error")
	}
	if res.Valid() {
		t.Fatal("expected depth-exceeding payload to be invalid")
	}
}

func TestValidateMessageEnforcesArrayLength(t *testing.T) {
	v := NewValidator(Limits{MaxArrayLen: 2})
	res, err := v.ValidateMessage([]byte(`{"jsonrpc":"2.0","method":"a","params":{"xs":[1,2,3]}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid() {
		t.Fatal("expected array exceeding MaxArrayLen to be invalid")
	}
}

func TestValidateMethodName(t *testing.T) {
	valid := []string{"ping", "tools/call", "notifications/initialized"}
	for _, m := range valid {
		if err := ValidateMethodName(m); err != nil {
			t.Errorf("expected %q to be valid, got %v", m, err)
		}
	}
	invalid := []string{"", "1bad", "bad name", "/slash-first"}
	for _, m := range invalid {
		if err := ValidateMethodName(m); err == nil {
			t.Errorf("expected %q to be invalid", m)
		}
	}
}

func TestValidateTool(t *testing.T) {
	tool := Tool{Name: "search", InputSchema: map[string]any{"type": "object"}}
	if res := ValidateTool(tool, "$"); !res.Valid() {
		t.Errorf("expected valid tool, got issues: %v", res.Issues)
	}

	bad := Tool{InputSchema: map[string]any{"type": "array"}}
	if res := ValidateTool(bad, "$"); res.Valid() {
		t.Error("expected invalid tool (missing name, wrong schema type)")
	}
}

func TestValidateResource(t *testing.T) {
	r := Resource{URI: "file:///tmp/x", Name: "x"}
	if res := ValidateResource(r, "$"); !res.Valid() {
		t.Errorf("expected valid resource, got: %v", res.Issues)
	}
	bad := Resource{URI: "not a uri", Name: "x"}
	if res := ValidateResource(bad, "$"); res.Valid() {
		t.Error("expected invalid resource uri to fail")
	}
}

func TestValidateContentVariants(t *testing.T) {
	cases := []struct {
		name  string
		c     Content
		valid bool
	}{
		{"text ok", Content{Type: "text", Text: "hi"}, true},
		{"text missing text", Content{Type: "text"}, false},
		{"image ok", Content{Type: "image", Data: "base64", MimeType: "image/png"}, true},
		{"image mismatched mime", Content{Type: "image", Data: "base64", MimeType: "audio/mp3"}, false},
		{"resource_link ok", Content{Type: "resource_link", Name: "n", URI: "file:///x"}, true},
		{"unknown type", Content{Type: "bogus"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateContent(tc.c, "$")
			if res.Valid() != tc.valid {
				t.Errorf("Valid() = %v, want %v (issues: %v)", res.Valid(), tc.valid, res.Issues)
			}
		})
	}
}

func TestValidateModelPreferencesRange(t *testing.T) {
	ptr := func(f float64) *float64 { return &f }
	ok := ModelPreferences{CostPriority: ptr(0.5), SpeedPriority: ptr(0), IntelligencePriority: ptr(1)}
	if res := ValidateModelPreferences(ok, "$"); !res.Valid() {
		t.Errorf("expected valid preferences, got: %v", res.Issues)
	}
	bad := ModelPreferences{CostPriority: ptr(1.5)}
	if res := ValidateModelPreferences(bad, "$"); res.Valid() {
		t.Error("expected out-of-range costPriority to be invalid")
	}
}

func TestValidateElicitationResultContentRequiredOnAccept(t *testing.T) {
	accept := ElicitationResult{Action: "accept", Content: map[string]any{"x": 1}}
	if res := ValidateElicitationResult(accept, nil, "$"); !res.Valid() {
		t.Errorf("expected valid accept result, got: %v", res.Issues)
	}

	missing := ElicitationResult{Action: "accept"}
	if res := ValidateElicitationResult(missing, nil, "$"); res.Valid() {
		t.Error("expected accept without content to be invalid")
	}

	decline := ElicitationResult{Action: "decline"}
	if res := ValidateElicitationResult(decline, nil, "$"); !res.Valid() {
		t.Errorf("expected valid decline result, got: %v", res.Issues)
	}
}

func TestValidateElicitationSchemaMustBeFlat(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nested": map[string]any{"type": "object"},
		},
	}
	res := ValidateElicitationResult(ElicitationResult{Action: "decline"}, schema, "$")
	if res.Valid() {
		t.Error("expected nested object property to fail flat-schema check")
	}
}

func TestValidateInitializeWarnsOnUnknownVersion(t *testing.T) {
	p := InitializeParams{ProtocolVersion: "2099-01-01", ClientInfo: ClientInfo{Name: "x"}}
	res := ValidateInitialize(p)
	if !res.Valid() {
		t.Errorf("unknown protocol version should warn, not block: %v", res.Issues)
	}
	if !res.HasWarnings() {
		t.Error("expected a warning for unrecognized protocol version")
	}
}

func TestValidateInitializeRequiresClientName(t *testing.T) {
	p := InitializeParams{ProtocolVersion: "2025-06-18"}
	res := ValidateInitialize(p)
	if res.Valid() {
		t.Error("expected missing clientInfo.name to be invalid")
	}
	found := false
	for _, iss := range res.Errors() {
		if strings.Contains(iss.Path, "clientInfo.name") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error anchored at clientInfo.name, got: %v", res.Issues)
	}
}
