package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// HealthResponse matches pkg/server.HealthResponse.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check mcpcore server health",
	Long: `Check the health status of the mcpcore HTTP server.

Examples:
  mcpcorectl health
  mcpcorectl health --server http://localhost:9090`,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("request health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}

	fmt.Printf("status:  %s\n", health.Status)
	fmt.Printf("service: %s\n", health.Service)
	return nil
}
