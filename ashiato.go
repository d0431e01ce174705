// Package ashiato is the host-side API for trace streams recorded by
// package tracer: decoding raw capture bytes into sessions, reconstructing
// timelines and statistics, and exporting viewer formats.
//
//	session, err := ashiato.Decode(f)
//	if err != nil {
//		return err
//	}
//	timeline := ashiato.Reconstruct(session)
//	out, err := ashiato.Export(ashiato.FormatChromeTrace, session)
//
// Decode tolerates dirty streams: it skips garbage until the version
// marker, resynchronizes on marker lines after corruption, and reports
// every skipped byte in the session diagnostics. Only a stream with no
// version marker at all fails.
//
// The import graph enforces a strict no-cycle rule: this package imports
// tracer for the wire format and nothing under internal/; the internal
// packages (store, mcp, capture) build on this package, never the other
// way around.
package ashiato

import (
	"github.com/ashiato-rt/ashiato/tracer"
)

// DefaultClockHz is the assumed rate of the recording clock when a session
// does not override it. 168 MHz matches the Cortex-M cycle counter the
// wire format was designed around.
const DefaultClockHz = tracer.DefaultClockHz

// ISRThreadID is the synthetic thread ID under which ISR intervals appear
// in Chrome trace exports, keeping interrupt time off every task lane.
const ISRThreadID = 999999

func cyclesToSeconds(cycles uint64, hz uint64) float64 {
	if hz == 0 {
		return 0
	}
	return float64(cycles) / float64(hz)
}

func cyclesToMicros(cycles uint64, hz uint64) float64 {
	return cyclesToSeconds(cycles, hz) * 1e6
}
