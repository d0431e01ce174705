package tracer

import (
	"bytes"
	"sync"
	"time"
)

// Channel is the byte sink a Recorder drains into. TryWrite either accepts
// the whole slice or none of it, and must return without blocking; a false
// return means the transport had no room and the bytes are gone. The slice
// is only valid for the duration of the call.
type Channel interface {
	TryWrite(p []byte) bool
}

// Clock supplies raw timestamps. Cycles is a free-running counter sample
// that wraps at 32 bits; the host side restores monotonic time.
type Clock interface {
	Cycles() uint32
}

// CriticalSection guards the recorder's buffer and registry. On a device
// this maps to masking interrupts; Enter must not block for unbounded time.
type CriticalSection interface {
	Enter()
	Exit()
}

// NopGuard is a CriticalSection for single-context use, where all calls
// into the Recorder come from one goroutine.
type NopGuard struct{}

func (NopGuard) Enter() {}
func (NopGuard) Exit()  {}

// MutexGuard is a CriticalSection backed by a sync.Mutex, for hosted runs
// where multiple goroutines record concurrently.
type MutexGuard struct {
	mu sync.Mutex
}

func (g *MutexGuard) Enter() { g.mu.Lock() }
func (g *MutexGuard) Exit()  { g.mu.Unlock() }

// cycleClock derives a wrapping 32-bit cycle count from the monotonic
// clock at a fixed rate. It is the default Clock for hosted runs.
type cycleClock struct {
	start time.Time
	hz    uint64
}

func newCycleClock(hz uint64) *cycleClock {
	return &cycleClock{start: time.Now(), hz: hz}
}

func (c *cycleClock) Cycles() uint32 {
	// A single elapsed*hz product overflows uint64 within minutes at
	// realistic clock rates, so whole seconds and the sub-second
	// remainder scale separately.
	elapsed := time.Since(c.start)
	secs := uint64(elapsed / time.Second)
	frac := uint64(elapsed % time.Second)
	return uint32(secs*c.hz + frac*c.hz/uint64(time.Second))
}

// BufferChannel is an in-memory Channel with a fixed byte capacity.
// Writes that would exceed the capacity are refused whole. It is safe for
// concurrent use and serves tests and hosted capture.
type BufferChannel struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

// NewBufferChannel returns a BufferChannel holding at most max bytes.
// max <= 0 means unbounded.
func NewBufferChannel(max int) *BufferChannel {
	return &BufferChannel{max: max}
}

// TryWrite implements Channel.
func (b *BufferChannel) TryWrite(p []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && b.buf.Len()+len(p) > b.max {
		return false
	}
	b.buf.Write(p)
	return true
}

// Bytes returns a copy of everything written so far.
func (b *BufferChannel) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// Len returns the number of buffered bytes.
func (b *BufferChannel) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// Reset discards all buffered bytes.
func (b *BufferChannel) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}
