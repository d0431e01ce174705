package ashiato

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Format selects an export encoding.
type Format string

const (
	// FormatJSON is a flat listing of every event with metadata.
	FormatJSON Format = "json"
	// FormatChromeTrace is Chrome trace-event JSON, loadable in
	// chrome://tracing and Perfetto.
	FormatChromeTrace Format = "chrome"
	// FormatChromeTraceMemory is FormatChromeTrace plus a running
	// allocated-bytes counter track.
	FormatChromeTraceMemory Format = "chrome-memory"
)

// ParseFormat maps a format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatJSON, FormatChromeTrace, FormatChromeTraceMemory:
		return Format(name), nil
	default:
		return "", fmt.Errorf("export: unknown format %q", name)
	}
}

// Export renders the session in the given format. Chrome formats
// reconstruct the timeline internally, so callers only ever need the
// decoded session.
func Export(format Format, s *TraceSession) ([]byte, error) {
	switch format {
	case FormatJSON:
		return exportJSON(s)
	case FormatChromeTrace:
		return exportChrome(s, false)
	case FormatChromeTraceMemory:
		return exportChrome(s, true)
	default:
		return nil, fmt.Errorf("export: unknown format %q", format)
	}
}

type flatExport struct {
	Metadata flatMetadata `json:"metadata"`
	Events   []flatEvent  `json:"events"`
}

type flatMetadata struct {
	TotalEvents  int               `json:"total_events"`
	CPUFrequency uint64            `json:"cpu_frequency"`
	TaskRegistry map[string]string `json:"task_registry"`
}

type flatEvent struct {
	Type        string  `json:"type"`
	Timestamp   uint32  `json:"timestamp"`
	Time        uint64  `json:"time"`
	TimeSeconds float64 `json:"time_seconds"`
	Handle      uint32  `json:"handle"`
	Data        uint32  `json:"data"`
}

func exportJSON(s *TraceSession) ([]byte, error) {
	out := flatExport{
		Metadata: flatMetadata{
			TotalEvents:  len(s.Events),
			CPUFrequency: s.ClockHz,
			TaskRegistry: registryMap(s),
		},
		Events: make([]flatEvent, 0, len(s.Events)),
	}
	for _, e := range s.Events {
		out.Events = append(out.Events, flatEvent{
			Type:        e.Kind.String(),
			Timestamp:   e.Timestamp,
			Time:        e.Time,
			TimeSeconds: cyclesToSeconds(e.Time, s.ClockHz),
			Handle:      e.Handle,
			Data:        e.Aux,
		})
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal json: %w", err)
	}
	return b, nil
}

// registryMap renders the registry with decimal-string handles, the shape
// downstream tooling expects in export metadata.
func registryMap(s *TraceSession) map[string]string {
	m := make(map[string]string, s.Registry.Len())
	for _, e := range s.Registry.Entries() {
		m[strconv.FormatUint(uint64(e.Handle), 10)] = e.Name
	}
	return m
}
