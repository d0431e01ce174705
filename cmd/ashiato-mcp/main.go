package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashiato-rt/ashiato/internal/config"
	"github.com/ashiato-rt/ashiato/internal/mcp"
	"github.com/ashiato-rt/ashiato/internal/store"
	"github.com/ashiato-rt/ashiato/internal/telemetry"
	"github.com/ashiato-rt/ashiato/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("ASHIATO_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// Logs go to stderr; stdout carries the MCP protocol.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, "ashiato-mcp", version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	var st *store.Store
	if cfg.DBPath != "" {
		st, err = store.Open(ctx, cfg.DBPath, logger)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := st.Migrate(ctx, migrations.FS); err != nil {
			return err
		}
	} else {
		slog.Info("session store: disabled (no ASHIATO_DB)")
	}

	srv := mcp.New(st, cfg.ClockHz, version, logger)

	slog.Info("ashiato-mcp serving on stdio", "version", version)

	stdio := mcpserver.NewStdioServer(srv.MCPServer())
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("mcp serve: %w", err)
	}

	slog.Info("ashiato-mcp stopped")
	return nil
}
