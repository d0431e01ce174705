package ashiato

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ashiato-rt/ashiato/tracer"
)

// ErrNoVersionMarker is returned by Decode when the stream never presents
// the version marker. Every other form of corruption is survivable and
// lands in the session diagnostics instead.
var ErrNoVersionMarker = errors.New("decode: version marker not found")

// DecodeOption configures Decode.
type DecodeOption func(*decodeOptions)

type decodeOptions struct {
	clockHz uint64
	logger  *slog.Logger
}

// WithClockHz sets the clock rate recorded on the session, used by every
// cycles-to-time conversion downstream.
func WithClockHz(hz uint64) DecodeOption {
	return func(o *decodeOptions) { o.clockHz = hz }
}

// WithDecodeLogger sets a logger for resync and trailing-byte warnings.
// Decoding is silent without it.
func WithDecodeLogger(logger *slog.Logger) DecodeOption {
	return func(o *decodeOptions) { o.logger = logger }
}

// streamMarkers in match order. The version marker sorts first so a
// repeated stream header resolves as a marker, not garbage.
var streamMarkers = []string{
	tracer.MarkerVersion,
	tracer.MarkerStart,
	tracer.MarkerStop,
	tracer.MarkerRegistryStart,
	tracer.MarkerRegistryEnd,
}

// Decode reads a raw capture stream into a TraceSession. Bytes before the
// first version marker are skipped and counted. After the header, the
// decoder consumes marker lines, registry blocks, and 13-byte records;
// on garbage it scans forward to the next marker line, counting skipped
// bytes and one resync. Timestamps are wrap-extended before return.
func Decode(r io.Reader, opts ...DecodeOption) (*TraceSession, error) {
	o := decodeOptions{
		clockHz: DefaultClockHz,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode: read stream: %w", err)
	}

	s := &TraceSession{ID: uuid.New(), ClockHz: o.clockHz}

	start := bytes.Index(data, []byte(tracer.MarkerVersion))
	if start < 0 {
		return nil, ErrNoVersionMarker
	}
	s.Diagnostics.SkippedBytes += start
	pos := start + len(tracer.MarkerVersion)

	for pos < len(data) {
		if m := matchMarker(data[pos:]); m != "" {
			pos += len(m)
			switch m {
			case tracer.MarkerStart:
				s.Diagnostics.Starts++
			case tracer.MarkerStop:
				s.Diagnostics.Stops++
			case tracer.MarkerRegistryStart:
				pos = decodeRegistry(data, pos, s)
			}
			continue
		}

		// Marker checks come first: a TIMER_STOP record can begin with
		// 'R' but never spells a whole marker line.
		if pos+tracer.EventSize <= len(data) {
			if e, err := tracer.DecodeEvent(data[pos : pos+tracer.EventSize]); err == nil {
				s.Events = append(s.Events, Event{Event: e})
				pos += tracer.EventSize
				continue
			}
		} else if tracer.Kind(data[pos]).Valid() {
			// A record was starting but the stream ends inside it.
			s.Diagnostics.TrailingBytes = len(data) - pos
			break
		}

		// Out of sync. Scan to the next marker line.
		skip, found := nextMarker(data[pos:])
		s.Diagnostics.SkippedBytes += skip
		s.Diagnostics.Resyncs++
		o.logger.Warn("trace stream resync",
			"offset", pos,
			"skipped_bytes", skip)
		pos += skip
		if !found {
			break
		}
	}

	extendTimestamps(s.Events)

	if s.Diagnostics.TrailingBytes > 0 {
		o.logger.Warn("trace stream ends mid-record",
			"trailing_bytes", s.Diagnostics.TrailingBytes)
	}
	return s, nil
}

// matchMarker returns the marker that prefixes p, or "".
func matchMarker(p []byte) string {
	for _, m := range streamMarkers {
		if bytes.HasPrefix(p, []byte(m)) {
			return m
		}
	}
	return ""
}

// nextMarker returns the offset of the earliest marker in p and whether
// one was found; without one the whole remainder is skipped.
func nextMarker(p []byte) (int, bool) {
	best := -1
	for _, m := range streamMarkers {
		if i := bytes.Index(p, []byte(m)); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	if best < 0 {
		return len(p), false
	}
	return best, true
}

// decodeRegistry consumes entry lines after a registry-start marker and
// returns the new position. Malformed lines count as skipped bytes; any
// non-entry marker ends the block and is left for the main loop.
func decodeRegistry(data []byte, pos int, s *TraceSession) int {
	for pos < len(data) {
		if bytes.HasPrefix(data[pos:], []byte(tracer.MarkerRegistryEnd)) {
			return pos + len(tracer.MarkerRegistryEnd)
		}
		if m := matchMarker(data[pos:]); m != "" {
			return pos
		}

		nl := bytes.IndexByte(data[pos:], '\n')
		if nl < 0 {
			s.Diagnostics.TrailingBytes = len(data) - pos
			return len(data)
		}
		line := string(data[pos : pos+nl])
		pos += nl + 1

		handle, name, ok := parseRegistryLine(line)
		if !ok {
			s.Diagnostics.SkippedBytes += len(line) + 1
			continue
		}
		s.Registry.Add(handle, name)
	}
	return pos
}

// parseRegistryLine parses "TASK:<decimal handle>:<name>". The name may
// itself contain colons.
func parseRegistryLine(line string) (uint32, string, bool) {
	rest, ok := strings.CutPrefix(line, "TASK:")
	if !ok {
		return 0, "", false
	}
	handleStr, name, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", false
	}
	handle, err := strconv.ParseUint(handleStr, 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(handle), name, true
}

// extendTimestamps widens the wrapping 32-bit timestamps to 64 bits: each
// time a raw value is smaller than its predecessor the counter is assumed
// to have wrapped once. At 168 MHz a wrap is ~25.6 s apart, far longer
// than any inter-event gap a live trace produces, so a single-wrap step
// per decrease is sufficient.
func extendTimestamps(events []Event) {
	var epoch uint64
	var prev uint32
	for i := range events {
		raw := events[i].Timestamp
		if i > 0 && raw < prev {
			epoch++
		}
		events[i].Time = epoch<<32 | uint64(raw)
		prev = raw
	}
}
