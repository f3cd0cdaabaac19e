// Command mcpcored is the MCP server daemon: it loads configuration,
// wires the protocol engine and registry, and starts whichever
// transports the configuration enables (stdio, Streamable HTTP,
// WebSocket, TCP, Unix socket).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mcpcore/mcpcore/internal/config"
	"github.com/mcpcore/mcpcore/internal/logging"
	"github.com/mcpcore/mcpcore/internal/telemetry"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides environment-derived defaults)")
	flag.Parse()

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  mcpcored           Start the mcpcore daemon\n")
			fmt.Fprintf(os.Stderr, "  mcpcored version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("mcpcored: %v", err)
	}
	log.Println("mcpcored: shutdown complete")
}

func printVersion() {
	fmt.Printf("mcpcored\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	if !cfg.Observability.EnableTelemetry {
		logCfg.Output.OTEL = false
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.EnableTelemetry
	telCfg.ServiceName = cfg.Observability.ServiceName
	telCfg.Protocol = cfg.Observability.OTLPProtocol
	telCfg.TLSSkipVerify = cfg.Observability.OTLPTLSSkipVerify
	if cfg.Observability.OTLPEndpoint != "" {
		telCfg.Endpoint = cfg.Observability.OTLPEndpoint
		telCfg.Insecure = cfg.Observability.OTLPInsecure
	}
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		logger.Warn(ctx, "telemetry init degraded", zap.Error(err))
	} else if tel != nil {
		defer func() { _ = tel.Shutdown(context.Background()) }()
	}

	logger.Info(ctx, "starting mcpcore",
		zap.String("service", cfg.Observability.ServiceName),
		zap.Int("health_port", cfg.Server.Port))

	deps, err := newDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("wire dependencies: %w", err)
	}

	return deps.Serve(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadWithFile(path)
}
