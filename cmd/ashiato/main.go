package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashiato-rt/ashiato"
	"github.com/ashiato-rt/ashiato/internal/config"
	"github.com/ashiato-rt/ashiato/internal/store"
	"github.com/ashiato-rt/ashiato/internal/telemetry"
	"github.com/ashiato-rt/ashiato/internal/transport"
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
	// Logs go to stderr; stdout carries the session summary.
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
	if cfg.InputPath == "" {
		return fmt.Errorf("ASHIATO_INPUT is required (path to a capture file)")
	}

	slog.Info("ashiato starting", "version", version, "input", cfg.InputPath)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, "ashiato", version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	ctx, span := otel.Tracer("ashiato").Start(ctx, "analyze",
		trace.WithAttributes(
			attribute.String("ashiato.input", cfg.InputPath),
		),
	)
	defer span.End()

	src, err := transport.Open(cfg.InputPath)
	if err != nil {
		return err
	}
	session, err := ashiato.Decode(src,
		ashiato.WithClockHz(cfg.ClockHz),
		ashiato.WithDecodeLogger(logger))
	_ = src.Close()
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	timeline := ashiato.Reconstruct(session)
	span.SetAttributes(
		attribute.Int("ashiato.events", len(session.Events)),
		attribute.Int("ashiato.skipped_bytes", session.Diagnostics.SkippedBytes),
	)
	slog.Info("session decoded",
		"session_id", session.ID,
		"events", len(session.Events),
		"span_seconds", timeline.Stats.SpanSeconds,
		"skipped_bytes", session.Diagnostics.SkippedBytes,
		"resyncs", session.Diagnostics.Resyncs)

	fmt.Print(ashiato.Summary(session))

	for _, name := range cfg.Formats() {
		format, err := ashiato.ParseFormat(name)
		if err != nil {
			return err
		}
		data, err := ashiato.Export(format, session)
		if err != nil {
			return err
		}
		outPath := exportPath(cfg.InputPath, format)
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return fmt.Errorf("write export %s: %w", outPath, err)
		}
		slog.Info("export written", "format", format, "path", outPath, "bytes", len(data))
	}

	if cfg.DBPath != "" {
		st, err := store.Open(ctx, cfg.DBPath, logger)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := st.Migrate(ctx, migrations.FS); err != nil {
			return err
		}
		rec := store.RecordFromSession(session, timeline.Stats, cfg.InputPath)
		if err := st.SaveSession(ctx, rec); err != nil {
			return err
		}
		slog.Info("session saved", "session_id", rec.ID, "db", cfg.DBPath)
	}

	return nil
}

// exportPath derives the output file for a format from the input path:
// capture.bin becomes capture.json, capture.chrome.json, or
// capture.chrome-memory.json.
func exportPath(input string, format ashiato.Format) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	if format == ashiato.FormatJSON {
		return base + ".json"
	}
	return base + "." + string(format) + ".json"
}
