package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a session against the mcpcore server",
	Long: `Send an initialize request and print the negotiated session id.

Examples:
  mcpcorectl init
  mcpcorectl init --server http://localhost:9090`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	params := map[string]any{
		"protocolVersion": "2025-06-18",
		"clientInfo":      map[string]string{"name": "mcpcorectl", "version": version},
	}
	resp, sessionID, err := call("initialize", params, "")
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize failed: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	fmt.Printf("session: %s\n", sessionID)
	fmt.Printf("result:  %s\n", resp.Result)
	return nil
}
