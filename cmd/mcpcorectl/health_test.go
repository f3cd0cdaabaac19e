package main

import (
	"net/http"
	"testing"
)

func TestRunHealthPrintsStatusOnSuccess(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"mcpcore"}`))
	})

	if err := runHealth(healthCmd, nil); err != nil {
		t.Fatalf("runHealth: %v", err)
	}
}

func TestRunHealthErrorsOnNonOKStatus(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if err := runHealth(healthCmd, nil); err == nil {
		t.Fatal("expected an error for a 503 response")
	}
}
