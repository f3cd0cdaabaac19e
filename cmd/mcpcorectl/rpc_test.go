package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func withServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	prev := serverURL
	serverURL = srv.URL
	t.Cleanup(func() { serverURL = prev })
}

func TestCallSendsSessionHeaderAndDecodesResult(t *testing.T) {
	var gotSessionHeader, gotMethod string
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotSessionHeader = r.Header.Get("Mcp-Session-Id")
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotMethod = req.Method
		w.Header().Set("Mcp-Session-Id", "srv-assigned")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	})

	resp, sessionID, err := call("tools/list", nil, "client-session")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotSessionHeader != "client-session" {
		t.Errorf("server saw Mcp-Session-Id %q, want %q", gotSessionHeader, "client-session")
	}
	if gotMethod != "tools/list" {
		t.Errorf("server saw method %q, want tools/list", gotMethod)
	}
	if sessionID != "srv-assigned" {
		t.Errorf("returned session id %q, want srv-assigned", sessionID)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	if string(resp.Result) != `{"ok":true}` {
		t.Errorf("result = %s, want {\"ok\":true}", resp.Result)
	}
}

func TestCallOmitsSessionHeaderWhenEmpty(t *testing.T) {
	var sawHeader bool
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		sawHeader = r.Header.Get("Mcp-Session-Id") != ""
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	})

	if _, _, err := call("initialize", map[string]any{"protocolVersion": "2025-06-18"}, ""); err != nil {
		t.Fatalf("call: %v", err)
	}
	if sawHeader {
		t.Error("expected no Mcp-Session-Id header on an empty session id")
	}
}

func TestCallReturnsErrorOnNonSuccessStatus(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	if _, _, err := call("ping", nil, ""); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestCallSurfacesRPCError(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
	})

	resp, _, err := call("unknown/method", nil, "")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected a -32601 rpc error, got %+v", resp.Error)
	}
}
