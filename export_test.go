package ashiato

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashiato-rt/ashiato/tracer"
)

func TestExport_UnknownFormat(t *testing.T) {
	_, err := Export(Format("yaml"), testSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"json", "chrome", "chrome-memory"} {
		f, err := ParseFormat(name)
		require.NoError(t, err)
		assert.Equal(t, Format(name), f)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
}

func TestExportJSON_Shape(t *testing.T) {
	s := testSession(
		ev(tracer.KindTaskSwitchedIn, 168, 0x1234, 0),
		ev(tracer.KindMalloc, 336, 0x2000, 64),
	)
	s.Registry.Add(0x1234, "Blink")

	out, err := Export(FormatJSON, s)
	require.NoError(t, err)

	var doc struct {
		Metadata struct {
			TotalEvents  int               `json:"total_events"`
			CPUFrequency uint64            `json:"cpu_frequency"`
			TaskRegistry map[string]string `json:"task_registry"`
		} `json:"metadata"`
		Events []struct {
			Type        string  `json:"type"`
			Timestamp   uint32  `json:"timestamp"`
			Time        uint64  `json:"time"`
			TimeSeconds float64 `json:"time_seconds"`
			Handle      uint32  `json:"handle"`
			Data        uint32  `json:"data"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))

	assert.Equal(t, 2, doc.Metadata.TotalEvents)
	assert.Equal(t, uint64(DefaultClockHz), doc.Metadata.CPUFrequency)
	assert.Equal(t, map[string]string{"4660": "Blink"}, doc.Metadata.TaskRegistry,
		"registry keys are decimal handle strings")

	require.Len(t, doc.Events, 2)
	first := doc.Events[0]
	assert.Equal(t, "TASK_SWITCHED_IN", first.Type)
	assert.Equal(t, uint32(168), first.Timestamp)
	assert.Equal(t, uint64(168), first.Time)
	assert.InDelta(t, 1e-6, first.TimeSeconds, 1e-12, "168 cycles at 168 MHz is one microsecond")
	assert.Equal(t, uint32(0x1234), first.Handle)

	second := doc.Events[1]
	assert.Equal(t, "MALLOC", second.Type)
	assert.Equal(t, uint32(64), second.Data)
}

func TestExportChrome_TaskAndISRSpans(t *testing.T) {
	s := testSession(
		ev(tracer.KindTaskSwitchedIn, 0, 0xA, 0),
		ev(tracer.KindTaskSwitchedOut, 168, 0xA, 0),
		ev(tracer.KindISREnter, 336, 0, 0),
		ev(tracer.KindISRExit, 504, 0, 0),
	)
	s.Registry.Add(0xA, "Blink")

	doc := chromeDoc(t, s, FormatChromeTrace)
	require.Len(t, doc.TraceEvents, 2)

	task := doc.TraceEvents[0]
	assert.Equal(t, "Blink", task["name"])
	assert.Equal(t, "task", task["cat"])
	assert.Equal(t, "X", task["ph"])
	assert.Equal(t, float64(0xA), task["tid"])
	assert.Equal(t, float64(0), task["pid"])
	assert.InDelta(t, 1.0, task["dur"].(float64), 1e-9, "168 cycles at 168 MHz is one microsecond")
	args := task["args"].(map[string]any)
	assert.Equal(t, "0x0000000A", args["handle"])

	isr := doc.TraceEvents[1]
	assert.Equal(t, "ISR", isr["name"])
	assert.Equal(t, "interrupt", isr["cat"])
	assert.Equal(t, float64(ISRThreadID), isr["tid"])
	assert.InDelta(t, 2.0, isr["ts"].(float64), 1e-9)

	assert.Equal(t, "ms", doc.DisplayTimeUnit)
	assert.Equal(t, float64(4), doc.Metadata["total_events"])
	assert.Equal(t, float64(DefaultClockHz), doc.Metadata["cpu_frequency"])
}

func TestExportChrome_Instants(t *testing.T) {
	s := testSession(
		ev(tracer.KindTaskCreate, 100, 0xA, 0),
		ev(tracer.KindTaskResumed, 200, 0xA, 1),
		ev(tracer.KindQueueSend, 300, 0x42, 0),
		ev(tracer.KindSemaphoreGive, 400, 0x43, 0),
		ev(tracer.KindTimerStart, 500, 0x44, 0),
	)
	s.Registry.Add(0xA, "Blink")

	doc := chromeDoc(t, s, FormatChromeTrace)
	require.Len(t, doc.TraceEvents, 5)

	create := doc.TraceEvents[0]
	assert.Equal(t, "Create: Blink", create["name"])
	assert.Equal(t, "task_lifecycle", create["cat"])
	assert.Equal(t, "i", create["ph"])
	assert.Equal(t, "g", create["s"])

	resumed := doc.TraceEvents[1]
	assert.Equal(t, "Resumed: Blink (from ISR)", resumed["name"])
	assert.Equal(t, "task_state", resumed["cat"])
	assert.Equal(t, "t", resumed["s"])
	rargs := resumed["args"].(map[string]any)
	assert.Equal(t, true, rargs["from_isr"])
	assert.Equal(t, "resumed", rargs["state"])

	queue := doc.TraceEvents[2]
	assert.Equal(t, "Queue Send", queue["name"])
	assert.Equal(t, "queue", queue["cat"])
	assert.Equal(t, "p", queue["s"])
	assert.Equal(t, "0x00000042", queue["args"].(map[string]any)["queue"])

	sem := doc.TraceEvents[3]
	assert.Equal(t, "Semaphore Give", sem["name"])
	assert.Equal(t, "sync", sem["cat"])

	timer := doc.TraceEvents[4]
	assert.Equal(t, "Timer Start", timer["name"])
	assert.Equal(t, "timer", timer["cat"])
}

func TestExportChrome_MemoryCounters(t *testing.T) {
	s := testSession(
		ev(tracer.KindMalloc, 100, 0x1000, 64),
		ev(tracer.KindMalloc, 200, 0x2000, 32),
		ev(tracer.KindFree, 300, 0x1000, 0),
		ev(tracer.KindFree, 400, 0x9999, 8),
	)

	plain := chromeDoc(t, s, FormatChromeTrace)
	for _, e := range plain.TraceEvents {
		assert.NotEqual(t, "Memory Usage", e["name"], "the plain chrome format carries no counter track")
	}

	mem := chromeDoc(t, s, FormatChromeTraceMemory)
	var counters []float64
	for _, e := range mem.TraceEvents {
		if e["name"] == "Memory Usage" {
			require.Equal(t, "C", e["ph"])
			counters = append(counters, e["args"].(map[string]any)["bytes"].(float64))
		}
	}
	assert.Equal(t, []float64{64, 96, 32}, counters,
		"counters follow tracked allocations; the untracked free moves nothing")

	var frees []map[string]any
	for _, e := range mem.TraceEvents {
		if e["name"] == "free" {
			frees = append(frees, e)
		}
	}
	require.Len(t, frees, 2)
	assert.Equal(t, float64(64), frees[0]["args"].(map[string]any)["size"], "tracked frees report the allocation size")
	assert.Equal(t, float64(8), frees[1]["args"].(map[string]any)["size"], "untracked frees fall back to the event size")
}

func TestExportChrome_OpenIntervalAsInstant(t *testing.T) {
	s := testSession(
		ev(tracer.KindTaskSwitchedIn, 100, 0xA, 0),
		ev(tracer.KindQueueSend, 300, 0x42, 0),
	)

	doc := chromeDoc(t, s, FormatChromeTrace)
	var open map[string]any
	for _, e := range doc.TraceEvents {
		if e["name"] == "Open: Task_0x0000000A" {
			open = e
		}
	}
	require.NotNil(t, open, "unfinished intervals must still be visible")
	assert.Equal(t, "i", open["ph"])
	for _, e := range doc.TraceEvents {
		assert.NotEqual(t, "X", e["ph"], "no span may be invented for an unfinished interval")
	}
}

// --- helpers ---

type chromeTrace struct {
	TraceEvents     []map[string]any `json:"traceEvents"`
	DisplayTimeUnit string           `json:"displayTimeUnit"`
	Metadata        map[string]any   `json:"metadata"`
}

func chromeDoc(t *testing.T, s *TraceSession, format Format) chromeTrace {
	t.Helper()
	out, err := Export(format, s)
	require.NoError(t, err)
	var doc chromeTrace
	require.NoError(t, json.Unmarshal(out, &doc))
	return doc
}
