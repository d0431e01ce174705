package config

import (
	"testing"
	"time"
)

func TestEnvStrSetAndFallback(t *testing.T) {
	t.Setenv("TEST_STR", "hello")
	if v := envStr("TEST_STR", "def"); v != "hello" {
		t.Fatalf("expected hello, got %q", v)
	}
	if v := envStr("TEST_STR_MISSING", "def"); v != "def" {
		t.Fatalf("expected fallback def, got %q", v)
	}
}

func TestEnvIntSetAndFallback(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if v := envInt("TEST_INT_MISSING", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for unparseable value, got %d", v)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !envBool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("TEST_BOOL_BAD", "maybe")
	if envBool("TEST_BOOL_BAD", false) {
		t.Fatal("expected fallback false for unparseable value")
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
	if v := envDuration("TEST_DUR_MISSING", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback 1m, got %s", v)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.ClockHz != 168_000_000 {
		t.Fatalf("expected default clock 168 MHz, got %d", cfg.ClockHz)
	}
	if cfg.SegmentMaxBytes != 8*1024*1024 {
		t.Fatalf("expected default segment size 8 MB, got %d", cfg.SegmentMaxBytes)
	}
	if cfg.FlushInterval != time.Second {
		t.Fatalf("expected default flush interval 1s, got %s", cfg.FlushInterval)
	}
}

func TestLoadRejectsUnknownExportFormat(t *testing.T) {
	t.Setenv("ASHIATO_EXPORT", "json,xml")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail on unknown export format")
	}
}

func TestFormatsSplitsAndTrims(t *testing.T) {
	c := Config{ExportFormats: " json , chrome-memory ,"}
	got := c.Formats()
	if len(got) != 2 || got[0] != "json" || got[1] != "chrome-memory" {
		t.Fatalf("unexpected formats: %v", got)
	}
	if (Config{}).Formats() != nil {
		t.Fatal("empty value must yield no formats")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	bad := base
	bad.ClockHz = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for zero clock rate")
	}

	bad = base
	bad.QueueCapacity = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for zero queue capacity")
	}

	bad = base
	bad.FlushInterval = -time.Second
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for negative flush interval")
	}
}
