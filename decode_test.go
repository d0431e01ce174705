package ashiato

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashiato-rt/ashiato/tracer"
)

func TestDecode_RecorderRoundTrip(t *testing.T) {
	ch := tracer.NewBufferChannel(0)
	rec, err := tracer.New(ch,
		tracer.WithBufferCapacity(8),
		tracer.WithDrainThreshold(0.5),
		tracer.WithClock(&stepClock{step: 50}))
	require.NoError(t, err)

	require.True(t, rec.RegisterObject(0x1000, "Worker"))
	rec.Start()
	want := make([]tracer.Kind, 0, 20)
	for i := 0; i < 20; i++ {
		kind := tracer.KindTaskSwitchedIn
		if i%2 == 1 {
			kind = tracer.KindTaskSwitchedOut
		}
		rec.Record(kind, 0x1000, uint32(i))
		want = append(want, kind)
	}
	rec.Stop()

	s, err := Decode(bytes.NewReader(ch.Bytes()))
	require.NoError(t, err)

	require.Len(t, s.Events, 20, "every recorded event must decode")
	for i, e := range s.Events {
		assert.Equal(t, want[i], e.Kind, "event %d kind", i)
		assert.Equal(t, uint32(0x1000), e.Handle, "event %d handle", i)
		assert.Equal(t, uint32(i), e.Aux, "event %d aux", i)
	}

	name, ok := s.Registry.Lookup(0x1000)
	require.True(t, ok)
	assert.Equal(t, "Worker", name)

	d := s.Diagnostics
	assert.Equal(t, 1, d.Starts)
	assert.Equal(t, 1, d.Stops)
	assert.Zero(t, d.SkippedBytes, "a clean stream must decode without skips")
	assert.Zero(t, d.Resyncs)
	assert.Zero(t, d.TrailingBytes)

	assert.GreaterOrEqual(t, rec.Stats().Drains, uint64(2), "20 records through capacity 8 drain repeatedly")
	assert.Zero(t, rec.Stats().DroppedRecords)
}

func TestDecode_NoVersionMarker(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not a trace stream at all")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoVersionMarker))
}

func TestDecode_SkipsLeadingGarbage(t *testing.T) {
	w := newWire()
	stream := append([]byte("BOOT NOISE 12345"), w.event(tracer.KindQueueSend, 100, 0x42, 0).bytes()...)

	s, err := Decode(bytes.NewReader(stream))
	require.NoError(t, err)
	require.Len(t, s.Events, 1)
	assert.Equal(t, 16, s.Diagnostics.SkippedBytes, "bytes before the version marker are counted")
}

func TestDecode_ResyncAfterCorruption(t *testing.T) {
	w := newWire()
	for i := 0; i < 50; i++ {
		w.event(tracer.KindTaskSwitchedIn, uint64(100+i), 0x100, 0)
	}
	w.raw(bytes.Repeat([]byte{0xFF}, 10))
	w.marker(tracer.MarkerStart)
	for i := 0; i < 5; i++ {
		w.event(tracer.KindTaskSwitchedOut, uint64(500+i), 0x100, 0)
	}

	s, err := Decode(bytes.NewReader(w.bytes()))
	require.NoError(t, err)

	assert.Len(t, s.Events, 55, "events on both sides of the corruption must decode")
	assert.Equal(t, 10, s.Diagnostics.SkippedBytes, "each garbage byte is reported")
	assert.Equal(t, 1, s.Diagnostics.Resyncs)
	assert.Equal(t, 1, s.Diagnostics.Starts)
	assert.Equal(t, tracer.KindTaskSwitchedOut, s.Events[50].Kind, "decoding resumes at the marker")
}

func TestDecode_ExtendsWrappedTimestamps(t *testing.T) {
	w := newWire()
	for _, raw := range []uint32{0xFFFFFFF0, 0xFFFFFFF8, 0x00000004} {
		w.event(tracer.KindISREnter, uint64(raw), 0, 0)
	}

	s, err := Decode(bytes.NewReader(w.bytes()))
	require.NoError(t, err)
	require.Len(t, s.Events, 3)

	assert.Equal(t, uint64(0xFFFFFFF0), s.Events[0].Time)
	assert.Equal(t, uint64(0xFFFFFFF8), s.Events[1].Time)
	assert.Equal(t, uint64(0x100000004), s.Events[2].Time, "a timestamp decrease means the counter wrapped")
	for i := 1; i < 3; i++ {
		assert.Greater(t, s.Events[i].Time, s.Events[i-1].Time, "extended times must be strictly monotonic")
	}
}

func TestDecode_RegistryBlock(t *testing.T) {
	w := newWire()
	w.marker(tracer.MarkerStart)
	w.marker(tracer.MarkerRegistryStart)
	w.line("TASK:4660:Blink")
	w.line("garbage line")
	w.line("TASK:22136:Sensor")
	w.marker(tracer.MarkerRegistryEnd)
	w.event(tracer.KindTaskSwitchedIn, 100, 4660, 0)

	s, err := Decode(bytes.NewReader(w.bytes()))
	require.NoError(t, err)

	require.Equal(t, 2, s.Registry.Len())
	assert.Equal(t, "Blink", s.Name(4660))
	assert.Equal(t, "Sensor", s.Name(22136))
	assert.Equal(t, len("garbage line")+1, s.Diagnostics.SkippedBytes, "malformed registry lines count as skipped")
	require.Len(t, s.Events, 1)
}

func TestDecode_RegistryNameMayContainColons(t *testing.T) {
	w := newWire()
	w.marker(tracer.MarkerRegistryStart)
	w.line("TASK:5:net:rx")
	w.marker(tracer.MarkerRegistryEnd)

	s, err := Decode(bytes.NewReader(w.bytes()))
	require.NoError(t, err)
	assert.Equal(t, "net:rx", s.Name(5))
}

func TestDecode_ReRegistrationKeepsLatestName(t *testing.T) {
	w := newWire()
	w.marker(tracer.MarkerRegistryStart)
	w.line("TASK:9:Old")
	w.marker(tracer.MarkerRegistryEnd)
	w.marker(tracer.MarkerRegistryStart)
	w.line("TASK:9:New")
	w.marker(tracer.MarkerRegistryEnd)

	s, err := Decode(bytes.NewReader(w.bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Registry.Len())
	assert.Equal(t, "New", s.Name(9))
}

func TestDecode_TrailingBytes(t *testing.T) {
	w := newWire()
	w.event(tracer.KindMalloc, 100, 0x2000, 64)
	partial := tracer.AppendEvent(nil, tracer.Event{Kind: tracer.KindFree, Timestamp: 200, Handle: 0x2000})
	w.raw(partial[:5])

	s, err := Decode(bytes.NewReader(w.bytes()))
	require.NoError(t, err)
	require.Len(t, s.Events, 1)
	assert.Equal(t, 5, s.Diagnostics.TrailingBytes)
}

func TestDecode_ClockOverride(t *testing.T) {
	w := newWire()
	s, err := Decode(bytes.NewReader(w.bytes()), WithClockHz(120_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(120_000_000), s.ClockHz)

	s, err = Decode(bytes.NewReader(w.bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultClockHz), s.ClockHz)
}

func TestDecode_ReadError(t *testing.T) {
	_, err := Decode(failingReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read stream")
}

func TestSession_NameFallback(t *testing.T) {
	s := &TraceSession{}
	assert.Equal(t, "Task_0x20000100", s.Name(0x20000100))
}

// --- helpers ---

// wireBuilder assembles raw capture streams byte by byte. The version
// marker is written at construction.
type wireBuilder struct {
	buf bytes.Buffer
}

func newWire() *wireBuilder {
	w := &wireBuilder{}
	w.buf.WriteString(tracer.MarkerVersion)
	return w
}

func (w *wireBuilder) marker(m string) *wireBuilder {
	w.buf.WriteString(m)
	return w
}

func (w *wireBuilder) line(s string) *wireBuilder {
	fmt.Fprintf(&w.buf, "%s\n", s)
	return w
}

func (w *wireBuilder) event(kind tracer.Kind, ts uint64, handle, aux uint32) *wireBuilder {
	w.buf.Write(tracer.AppendEvent(nil, tracer.Event{
		Kind:      kind,
		Timestamp: uint32(ts),
		Handle:    handle,
		Aux:       aux,
	}))
	return w
}

func (w *wireBuilder) raw(p []byte) *wireBuilder {
	w.buf.Write(p)
	return w
}

func (w *wireBuilder) bytes() []byte {
	return w.buf.Bytes()
}

// stepClock advances a fixed amount per sample.
type stepClock struct {
	now  uint32
	step uint32
}

func (c *stepClock) Cycles() uint32 {
	c.now += c.step
	return c.now
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
