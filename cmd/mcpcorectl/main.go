// Command mcpcorectl is a CLI for manual smoke-testing against a
// running mcpcored Streamable HTTP endpoint.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	version   = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mcpcorectl",
	Short:   "CLI for mcpcore server operations",
	Long:    "mcpcorectl is a command-line interface for exercising a running mcpcore Streamable HTTP server: initializing a session, listing tools, calling a tool, and checking health.",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8443", "mcpcore Streamable HTTP server URL")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(healthCmd)
}
