package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDCRClientRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RegistrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode registration request: %v", err)
		}
		if req.TokenEndpointAuthMethod != "none" {
			t.Errorf("expected token_endpoint_auth_method=none, got %q", req.TokenEndpointAuthMethod)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(RegistrationResponse{ClientID: "generated-client-id"})
	}))
	defer srv.Close()

	client := NewDCRClient(srv.URL, nil)
	req := DefaultRegistrationRequest("mcpcore", []string{"https://client.example.com/callback"}, []string{"mcp"})
	resp, err := client.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.ClientID != "generated-client-id" {
		t.Errorf("got client id %q", resp.ClientID)
	}
}

func TestDCRClientRejectsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewDCRClient(srv.URL, nil)
	if _, err := client.Register(context.Background(), DefaultRegistrationRequest("mcpcore", nil, nil)); err == nil {
		t.Fatal("expected error for 400 response")
	}
}
