package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashiato-rt/ashiato/internal/capture"
	"github.com/ashiato-rt/ashiato/internal/config"
	"github.com/ashiato-rt/ashiato/internal/telemetry"
	"github.com/ashiato-rt/ashiato/internal/transport"
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
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
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

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, "ashiato-capture", version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	src, source, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}

	slog.Info("ashiato-capture starting",
		"version", version,
		"source", source,
		"spool_dir", cfg.SpoolDir)

	pump, err := capture.NewPump(logger, src, capture.PumpConfig{
		Spool: capture.SpoolConfig{
			Dir:             cfg.SpoolDir,
			MaxSegmentBytes: int64(cfg.SegmentMaxBytes),
		},
		QueueCapacity: cfg.QueueCapacity,
		FlushInterval: cfg.FlushInterval,
	})
	if err != nil {
		_ = src.Close()
		return err
	}

	if err := pump.Run(ctx); err != nil {
		return err
	}

	slog.Info("ashiato-capture stopped", "spooled_bytes", pump.Spool().TotalBytes())
	return nil
}

// openSource connects to the configured capture source: a TCP address
// when ASHIATO_ADDR is set, otherwise a file. The address wins when both
// are present.
func openSource(ctx context.Context, cfg config.Config) (transport.Source, string, error) {
	if cfg.Addr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		src, err := transport.Dial(dialCtx, cfg.Addr)
		if err != nil {
			return nil, "", err
		}
		return src, cfg.Addr, nil
	}
	if cfg.InputPath != "" {
		src, err := transport.Open(cfg.InputPath)
		if err != nil {
			return nil, "", err
		}
		return src, cfg.InputPath, nil
	}
	return nil, "", fmt.Errorf("ASHIATO_ADDR or ASHIATO_INPUT is required (capture source)")
}
