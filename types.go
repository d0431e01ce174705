package ashiato

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ashiato-rt/ashiato/tracer"
)

// Event is one decoded trace record. The embedded wire event carries the
// raw 32-bit timestamp; Time is the wrap-extended 64-bit timestamp in
// cycles since the first event's epoch.
type Event struct {
	tracer.Event
	Time uint64
}

// Diagnostics reports what Decode had to tolerate while reading a stream.
type Diagnostics struct {
	// SkippedBytes counts bytes discarded before the version marker,
	// during resynchronization, and in malformed registry lines.
	SkippedBytes int `json:"skipped_bytes"`
	// Resyncs counts the times the decoder lost record alignment and
	// scanned forward to a marker line.
	Resyncs int `json:"resyncs"`
	// TrailingBytes counts leftover bytes after the last whole record.
	TrailingBytes int `json:"trailing_bytes"`
	// Starts and Stops tally the session markers seen.
	Starts int `json:"starts"`
	Stops  int `json:"stops"`
}

// Registry is the decoded object registry: handle/name pairs in
// announcement order. Re-announced handles keep their latest name.
type Registry struct {
	entries  []tracer.RegistryEntry
	byHandle map[uint32]string
}

// Add records a handle/name pair. A handle seen before keeps its position
// and takes the new name.
func (r *Registry) Add(handle uint32, name string) {
	if r.byHandle == nil {
		r.byHandle = make(map[uint32]string)
	}
	if _, seen := r.byHandle[handle]; !seen {
		r.entries = append(r.entries, tracer.RegistryEntry{Handle: handle, Name: name})
	} else {
		for i := range r.entries {
			if r.entries[i].Handle == handle {
				r.entries[i].Name = name
				break
			}
		}
	}
	r.byHandle[handle] = name
}

// Lookup returns the registered name for handle.
func (r *Registry) Lookup(handle uint32) (string, bool) {
	name, ok := r.byHandle[handle]
	return name, ok
}

// Entries returns the registry in announcement order.
func (r *Registry) Entries() []tracer.RegistryEntry {
	out := make([]tracer.RegistryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered objects.
func (r *Registry) Len() int { return len(r.entries) }

// TraceSession is one decoded capture: the event sequence with extended
// timestamps, the announced object registry, and decode diagnostics.
type TraceSession struct {
	ID          uuid.UUID
	ClockHz     uint64
	Events      []Event
	Registry    Registry
	Diagnostics Diagnostics
}

// Name resolves handle through the registry, falling back to a stable
// placeholder derived from the handle.
func (s *TraceSession) Name(handle uint32) string {
	if name, ok := s.Registry.Lookup(handle); ok {
		return name
	}
	return fmt.Sprintf("Task_0x%08X", handle)
}

// Span returns the session length in extended cycles, zero when the
// session holds fewer than two events.
func (s *TraceSession) Span() uint64 {
	if len(s.Events) < 2 {
		return 0
	}
	return s.Events[len(s.Events)-1].Time - s.Events[0].Time
}

// IntervalKind distinguishes task execution from interrupt execution.
type IntervalKind string

const (
	IntervalTask IntervalKind = "task"
	IntervalISR  IntervalKind = "isr"
)

// Interval is one contiguous stretch of execution attributed to a task or
// to the ISR pseudo-subject (handle 0). An interval still open when the
// session ended has Open set and End pinned to the last event time; open
// intervals never contribute to aggregate statistics.
type Interval struct {
	Kind   IntervalKind `json:"kind"`
	Handle uint32       `json:"handle"`
	Name   string       `json:"name"`
	Start  uint64       `json:"start"`
	End    uint64       `json:"end"`
	Open   bool         `json:"open,omitempty"`
}

// Duration returns the interval length in extended cycles.
func (iv Interval) Duration() uint64 { return iv.End - iv.Start }

// TaskStats aggregates the closed intervals of one task.
type TaskStats struct {
	Handle     uint32  `json:"handle"`
	Name       string  `json:"name"`
	Switches   int     `json:"switches"`
	Total      uint64  `json:"total_cycles"`
	Min        uint64  `json:"min_cycles"`
	Max        uint64  `json:"max_cycles"`
	Mean       float64 `json:"mean_cycles"`
	CPUPercent float64 `json:"cpu_percent"`
}

// ISRStats aggregates closed interrupt intervals.
type ISRStats struct {
	Count int     `json:"count"`
	Total uint64  `json:"total_cycles"`
	Min   uint64  `json:"min_cycles"`
	Max   uint64  `json:"max_cycles"`
	Mean  float64 `json:"mean_cycles"`
}

// Allocation is one outstanding heap allocation at session end.
type Allocation struct {
	Address uint32 `json:"address"`
	Size    uint32 `json:"size"`
	Time    uint64 `json:"time"`
}

// MemorySample is one point on the allocated-bytes series.
type MemorySample struct {
	Time  uint64 `json:"time"`
	Bytes uint64 `json:"bytes"`
}

// MemoryStats aggregates heap events paired by address.
type MemoryStats struct {
	// Allocs counts malloc events with a nonzero size; Frees counts
	// frees of a tracked address.
	Allocs int `json:"allocs"`
	Frees  int `json:"frees"`
	// CurrentBytes is the tracked total at session end, PeakBytes the
	// highest tracked total.
	CurrentBytes uint64 `json:"current_bytes"`
	PeakBytes    uint64 `json:"peak_bytes"`
	// DoubleAllocs counts mallocs of an address already live;
	// UntrackedFrees counts frees of an address never seen allocated.
	DoubleAllocs   int `json:"double_allocs,omitempty"`
	UntrackedFrees int `json:"untracked_frees,omitempty"`
	// Outstanding lists allocations never freed, in allocation order.
	Outstanding []Allocation   `json:"outstanding,omitempty"`
	Series      []MemorySample `json:"series,omitempty"`
}

// Stats are the aggregate numbers over one session. All sums cover closed
// intervals only.
type Stats struct {
	Span        uint64      `json:"span_cycles"`
	SpanSeconds float64     `json:"span_seconds"`
	Tasks       []TaskStats `json:"tasks"`
	ISR         ISRStats    `json:"isr"`
	// IdleCycles is the span not attributed to any closed task or ISR
	// interval, clamped at zero.
	IdleCycles  uint64      `json:"idle_cycles"`
	IdlePercent float64     `json:"idle_percent"`
	Memory      MemoryStats `json:"memory"`
	// UnmatchedOpens counts interval starts that displaced a still-open
	// interval; UnmatchedCloses counts interval ends with nothing open.
	UnmatchedOpens  int `json:"unmatched_opens,omitempty"`
	UnmatchedCloses int `json:"unmatched_closes,omitempty"`
}

// Timeline is the reconstructed execution history of one session.
type Timeline struct {
	Intervals []Interval `json:"intervals"`
	Stats     Stats      `json:"stats"`
}
