// Package tracer is the device-side half of ashiato: a fixed-footprint
// event recorder for RTOS-style workloads. Scheduler hooks, ISR handlers,
// and instrumented allocators call Record with an event kind, an object
// handle, and kind-specific data; the recorder packs 13-byte records into
// a pre-allocated buffer and drains synchronously to a Channel whenever
// occupancy crosses a tunable threshold.
//
//	ch := tracer.NewBufferChannel(0)
//	rec, err := tracer.New(ch)
//	if err != nil {
//		return err
//	}
//	rec.RegisterObject(0x2000_0100, "Worker")
//	rec.Start()
//	rec.Record(tracer.KindTaskSwitchedIn, 0x2000_0100, 0)
//	rec.Record(tracer.KindTaskSwitchedOut, 0x2000_0100, 0)
//	rec.Stop()
//
// Record never blocks and never allocates; when the Channel refuses bytes
// the records are dropped and counted, never retried. The package imports
// only the standard library so device ports stay dependency-free; the host
// side (package ashiato) decodes what this package emits.
package tracer

import (
	"fmt"
	"sync/atomic"
)

// Tuning defaults. Capacity and threshold reproduce the recording
// footprint of the C instrumentation layer this wire format comes from:
// 64 records of 13 bytes with a drain at half occupancy.
const (
	DefaultBufferCapacity   = 64
	DefaultDrainThreshold   = 0.5
	DefaultRegistryCapacity = 32
	DefaultClockHz          = 168_000_000
)

// RegistryEntry is one named object in the recorder's registry.
type RegistryEntry struct {
	Handle uint32
	Name   string
}

// RecorderStats are cumulative counters since construction.
type RecorderStats struct {
	// Recorded is the number of events accepted by Record.
	Recorded uint64
	// Drains is the number of buffer drains, both threshold-triggered
	// and final (Stop).
	Drains uint64
	// DroppedRecords counts records lost because the Channel refused the
	// drained bytes.
	DroppedRecords uint64
	// RegistryRejects counts RegisterObject calls refused because the
	// registry was full.
	RegistryRejects uint64
}

// Recorder captures trace events into a fixed buffer and emits the wire
// stream described by the Marker constants and AppendEvent. All methods
// are safe under the configured CriticalSection.
type Recorder struct {
	ch    Channel
	clock Clock
	guard CriticalSection

	// Guarded state. buf is allocated once with capacity*EventSize bytes;
	// count tracks buffered records.
	buf      []byte
	count    int
	capacity int
	drainAt  int
	registry []RegistryEntry

	enabled atomic.Bool

	recorded        atomic.Uint64
	drains          atomic.Uint64
	dropped         atomic.Uint64
	registryRejects atomic.Uint64
}

// New builds a Recorder draining into ch and writes the stream version
// marker. The event buffer and registry are allocated here, once.
func New(ch Channel, opts ...Option) (*Recorder, error) {
	if ch == nil {
		return nil, fmt.Errorf("tracer: channel is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.bufferCapacity < 1 {
		return nil, fmt.Errorf("tracer: buffer capacity must be at least 1, got %d", o.bufferCapacity)
	}
	if o.drainThreshold <= 0 || o.drainThreshold > 1 {
		return nil, fmt.Errorf("tracer: drain threshold must be in (0, 1], got %g", o.drainThreshold)
	}
	if o.registryCapacity < 0 {
		return nil, fmt.Errorf("tracer: registry capacity must not be negative, got %d", o.registryCapacity)
	}
	if o.clock == nil {
		o.clock = newCycleClock(o.clockHz)
	}
	if o.guard == nil {
		o.guard = &MutexGuard{}
	}

	drainAt := int(o.drainThreshold * float64(o.bufferCapacity))
	if drainAt < 1 {
		drainAt = 1
	}

	r := &Recorder{
		ch:       ch,
		clock:    o.clock,
		guard:    o.guard,
		buf:      make([]byte, 0, o.bufferCapacity*EventSize),
		capacity: o.bufferCapacity,
		drainAt:  drainAt,
		registry: make([]RegistryEntry, 0, o.registryCapacity),
	}
	r.ch.TryWrite([]byte(MarkerVersion))
	return r, nil
}

// Record captures one event. It returns immediately when the recorder is
// not started. The clock is sampled before entering the critical section,
// so the timestamp reflects call time even when this call also drains.
func (r *Recorder) Record(kind Kind, handle, aux uint32) {
	if !r.enabled.Load() {
		return
	}
	ts := r.clock.Cycles()

	r.guard.Enter()
	r.buf = AppendEvent(r.buf, Event{Kind: kind, Timestamp: ts, Handle: handle, Aux: aux})
	r.count++
	if r.count >= r.drainAt {
		r.drainLocked()
	}
	r.guard.Exit()

	r.recorded.Add(1)
}

// RegisterObject adds a handle/name pair to the registry. Names longer
// than MaxNameLen bytes are truncated. Returns false without side effects
// when the registry is full; the refusal is counted in Stats.
//
// Objects must be registered before Start to appear in that session's
// snapshot. Later registrations are kept and show up in the next Start.
func (r *Recorder) RegisterObject(handle uint32, name string) bool {
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}

	r.guard.Enter()
	defer r.guard.Exit()
	if len(r.registry) == cap(r.registry) {
		r.registryRejects.Add(1)
		return false
	}
	r.registry = append(r.registry, RegistryEntry{Handle: handle, Name: name})
	return true
}

// Start enables recording, emits the start marker, and snapshots the
// registry onto the channel. The snapshot reflects the registry at this
// moment; objects registered afterwards are not re-announced until the
// next Start. Start is a no-op when already enabled.
func (r *Recorder) Start() {
	if r.enabled.Load() {
		return
	}
	r.guard.Enter()
	r.enabled.Store(true)
	r.ch.TryWrite([]byte(MarkerStart))
	r.snapshotLocked()
	r.guard.Exit()
}

// Stop drains any buffered records, emits the stop marker, and disables
// recording. A no-op when not enabled.
func (r *Recorder) Stop() {
	if !r.enabled.Load() {
		return
	}
	r.guard.Enter()
	r.drainLocked()
	r.ch.TryWrite([]byte(MarkerStop))
	r.enabled.Store(false)
	r.guard.Exit()
}

// Enabled reports whether Record currently captures events.
func (r *Recorder) Enabled() bool {
	return r.enabled.Load()
}

// Registry returns a copy of the current registry in registration order.
func (r *Recorder) Registry() []RegistryEntry {
	r.guard.Enter()
	defer r.guard.Exit()
	out := make([]RegistryEntry, len(r.registry))
	copy(out, r.registry)
	return out
}

// Stats returns the cumulative counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded:        r.recorded.Load(),
		Drains:          r.drains.Load(),
		DroppedRecords:  r.dropped.Load(),
		RegistryRejects: r.registryRejects.Load(),
	}
}

// drainLocked hands the buffered records to the channel and resets
// occupancy. Refused bytes are dropped and counted. Caller holds the guard.
func (r *Recorder) drainLocked() {
	if r.count == 0 {
		return
	}
	if !r.ch.TryWrite(r.buf) {
		r.dropped.Add(uint64(r.count))
	}
	r.buf = r.buf[:0]
	r.count = 0
	r.drains.Add(1)
}

// snapshotLocked emits the registry block, one channel write per line so
// markers and entries land on record boundaries. Caller holds the guard.
func (r *Recorder) snapshotLocked() {
	r.ch.TryWrite([]byte(MarkerRegistryStart))
	for _, e := range r.registry {
		line := fmt.Appendf(nil, "TASK:%d:%s\n", e.Handle, e.Name)
		r.ch.TryWrite(line)
	}
	r.ch.TryWrite([]byte(MarkerRegistryEnd))
}
