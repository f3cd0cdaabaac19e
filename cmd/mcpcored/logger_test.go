package main

import (
	"testing"

	"github.com/mcpcore/mcpcore/internal/logging"
)

// testLogger builds a minimal logger for tests that wire dependencies;
// OTEL output is disabled so tests never need a collector.
func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	cfg := logging.NewDefaultConfig()
	cfg.Output.OTEL = false
	logger, err := logging.NewLogger(cfg, nil)
	if err != nil {
		t.Fatalf("logging.NewLogger: %v", err)
	}
	return logger
}
