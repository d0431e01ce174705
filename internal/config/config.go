// Package config loads and validates runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all tunables for the ashiato binaries. Every field has a
// default; presence checks for binary-specific fields (input path, capture
// source) live with the binaries, since what is required differs per
// command.
type Config struct {
	// Decoding.
	ClockHz uint64 // Recording clock rate used for cycles-to-time conversion.

	// Analyzer input and outputs.
	InputPath     string // Capture file to decode.
	ExportFormats string // Comma-separated export format names.
	DBPath        string // Session store path; empty disables the store.

	// Capture source. Addr wins when both Addr and InputPath are set.
	Addr        string // host:port of a raw byte source.
	DialTimeout time.Duration

	// Capture spool.
	SpoolDir        string
	SegmentMaxBytes int
	FlushInterval   time.Duration
	QueueCapacity   int // Chunks buffered between reader and writer before drops.

	// Telemetry.
	OTELEndpoint string // OTLP HTTP endpoint; empty disables export.
	OTELInsecure bool
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	cfg := Config{
		ClockHz:         uint64(envInt("ASHIATO_CLOCK_HZ", 168_000_000)),
		InputPath:       envStr("ASHIATO_INPUT", ""),
		ExportFormats:   envStr("ASHIATO_EXPORT", ""),
		DBPath:          envStr("ASHIATO_DB", ""),
		Addr:            envStr("ASHIATO_ADDR", ""),
		DialTimeout:     envDuration("ASHIATO_DIAL_TIMEOUT", 10*time.Second),
		SpoolDir:        envStr("ASHIATO_SPOOL_DIR", "trace-spool"),
		SegmentMaxBytes: envInt("ASHIATO_SEGMENT_MAX_BYTES", 8*1024*1024), // 8 MB default
		FlushInterval:   envDuration("ASHIATO_FLUSH_INTERVAL", time.Second),
		QueueCapacity:   envInt("ASHIATO_QUEUE_CAPACITY", 1024),
		OTELEndpoint:    envStr("ASHIATO_OTEL_ENDPOINT", ""),
		OTELInsecure:    envBool("ASHIATO_OTEL_INSECURE", false),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	if c.ClockHz == 0 {
		return fmt.Errorf("config: ASHIATO_CLOCK_HZ must be positive")
	}
	if c.SegmentMaxBytes <= 0 {
		return fmt.Errorf("config: ASHIATO_SEGMENT_MAX_BYTES must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("config: ASHIATO_FLUSH_INTERVAL must be positive")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: ASHIATO_QUEUE_CAPACITY must be positive")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("config: ASHIATO_DIAL_TIMEOUT must be positive")
	}
	for _, f := range c.Formats() {
		switch f {
		case "json", "chrome", "chrome-memory":
		default:
			return fmt.Errorf("config: ASHIATO_EXPORT contains unknown format %q", f)
		}
	}
	return nil
}

// Formats returns the requested export format names, trimmed and with
// empty entries removed.
func (c Config) Formats() []string {
	if c.ExportFormats == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(c.ExportFormats, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
