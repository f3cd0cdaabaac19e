package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List or call tools on the mcpcore server",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tools the server exposes",
	Long: `Initialize a session and list the server's registered tools.

Examples:
  mcpcorectl tools list`,
	RunE: runToolsList,
}

var toolCallArgs string

var toolsCallCmd = &cobra.Command{
	Use:   "call <name>",
	Short: "Call a tool by name",
	Long: `Initialize a session and call a tool with the given JSON arguments.

Examples:
  mcpcorectl tools call echo --args '{"text":"hi"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runToolsCall,
}

func init() {
	toolsCallCmd.Flags().StringVar(&toolCallArgs, "args", "{}", "JSON-encoded tool arguments")
	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsCallCmd)
}

func newSession() (string, error) {
	_, sessionID, err := call("initialize", map[string]any{
		"protocolVersion": "2025-06-18",
		"clientInfo":      map[string]string{"name": "mcpcorectl", "version": version},
	}, "")
	return sessionID, err
}

func runToolsList(cmd *cobra.Command, args []string) error {
	sessionID, err := newSession()
	if err != nil {
		return err
	}
	resp, _, err := call("tools/list", nil, sessionID)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("tools/list failed: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	fmt.Println(string(resp.Result))
	return nil
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	var rawArgs json.RawMessage = json.RawMessage(toolCallArgs)
	if !json.Valid(rawArgs) {
		return fmt.Errorf("--args is not valid JSON: %s", toolCallArgs)
	}

	sessionID, err := newSession()
	if err != nil {
		return err
	}
	resp, _, err := call("tools/call", map[string]any{"name": args[0], "arguments": rawArgs}, sessionID)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("tools/call failed: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	fmt.Println(string(resp.Result))
	return nil
}
