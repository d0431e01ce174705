package ashiato

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashiato-rt/ashiato/tracer"
)

// exportChrome renders Chrome trace-event JSON: complete spans for closed
// task and ISR intervals, instants for every discrete event, and (with
// memory set) a running allocated-bytes counter. Timestamps are
// microseconds from extended cycles at the session clock rate.
func exportChrome(s *TraceSession, memory bool) ([]byte, error) {
	tl := Reconstruct(s)
	events := make([]map[string]any, 0, len(tl.Intervals)+len(s.Events))

	micros := func(t uint64) float64 { return cyclesToMicros(t, s.ClockHz) }
	hexHandle := func(h uint32) string { return fmt.Sprintf("0x%08X", h) }

	for _, iv := range tl.Intervals {
		switch {
		case iv.Open:
			// No end was observed; an instant at the start keeps the
			// interval visible without inventing a duration.
			ev := map[string]any{
				"name": "Open: " + iv.Name,
				"cat":  string(iv.Kind),
				"ph":   "i",
				"s":    "t",
				"ts":   micros(iv.Start),
				"pid":  0,
				"tid":  iv.Handle,
				"args": map[string]any{"handle": hexHandle(iv.Handle)},
			}
			if iv.Kind == IntervalISR {
				ev["cat"] = "interrupt"
				ev["tid"] = ISRThreadID
				ev["args"] = map[string]any{}
			}
			events = append(events, ev)

		case iv.Kind == IntervalISR:
			events = append(events, map[string]any{
				"name": "ISR",
				"cat":  "interrupt",
				"ph":   "X",
				"ts":   micros(iv.Start),
				"dur":  micros(iv.End) - micros(iv.Start),
				"pid":  0,
				"tid":  ISRThreadID,
				"args": map[string]any{},
			})

		default:
			events = append(events, map[string]any{
				"name": iv.Name,
				"cat":  "task",
				"ph":   "X",
				"ts":   micros(iv.Start),
				"dur":  micros(iv.End) - micros(iv.Start),
				"pid":  0,
				"tid":  iv.Handle,
				"args": map[string]any{"handle": hexHandle(iv.Handle)},
			})
		}
	}

	instant := func(name, cat, scope string, ts float64, tid any, args map[string]any) map[string]any {
		return map[string]any{
			"name": name, "cat": cat, "ph": "i", "s": scope,
			"ts": ts, "pid": 0, "tid": tid, "args": args,
		}
	}

	live := make(map[uint32]uint32)
	var allocated uint64

	for _, e := range s.Events {
		ts := micros(e.Time)
		switch e.Kind {
		case tracer.KindTaskCreate:
			events = append(events, instant("Create: "+s.Name(e.Handle), "task_lifecycle", "g", ts, e.Handle,
				map[string]any{"handle": hexHandle(e.Handle)}))

		case tracer.KindTaskDelete:
			events = append(events, instant("Delete: "+s.Name(e.Handle), "task_lifecycle", "g", ts, e.Handle,
				map[string]any{"handle": hexHandle(e.Handle)}))

		case tracer.KindTaskReady:
			events = append(events, instant("Ready: "+s.Name(e.Handle), "task_state", "t", ts, e.Handle,
				map[string]any{"state": "ready", "handle": hexHandle(e.Handle)}))

		case tracer.KindTaskSuspended:
			events = append(events, instant("Suspended: "+s.Name(e.Handle), "task_state", "t", ts, e.Handle,
				map[string]any{"state": "suspended", "handle": hexHandle(e.Handle)}))

		case tracer.KindTaskResumed:
			name := "Resumed: " + s.Name(e.Handle)
			if e.Aux == 1 {
				name += " (from ISR)"
			}
			events = append(events, instant(name, "task_state", "t", ts, e.Handle,
				map[string]any{"state": "resumed", "from_isr": e.Aux == 1, "handle": hexHandle(e.Handle)}))

		case tracer.KindQueueCreate, tracer.KindQueueSend, tracer.KindQueueReceive:
			events = append(events, instant(titleName(e.Kind), "queue", "p", ts, 0,
				map[string]any{"queue": hexHandle(e.Handle)}))

		case tracer.KindSemaphoreCreate, tracer.KindSemaphoreGive, tracer.KindSemaphoreTake,
			tracer.KindMutexCreate, tracer.KindMutexGive, tracer.KindMutexTake:
			events = append(events, instant(titleName(e.Kind), "sync", "p", ts, 0,
				map[string]any{"handle": hexHandle(e.Handle)}))

		case tracer.KindTimerCreate, tracer.KindTimerStart, tracer.KindTimerStop:
			events = append(events, instant(titleName(e.Kind), "timer", "p", ts, 0,
				map[string]any{"handle": hexHandle(e.Handle)}))

		case tracer.KindMalloc:
			size := e.Aux
			if size > 0 {
				if old, ok := live[e.Handle]; ok {
					allocated -= uint64(old)
				}
				live[e.Handle] = size
				allocated += uint64(size)
			}
			events = append(events, instant("malloc", "memory", "p", ts, 0,
				map[string]any{"address": hexHandle(e.Handle), "size": size}))
			if memory && size > 0 {
				events = append(events, counterEvent(ts, allocated))
			}

		case tracer.KindFree:
			size, tracked := live[e.Handle]
			if tracked {
				allocated -= uint64(size)
				delete(live, e.Handle)
			} else {
				// Allocation predates the capture; the aux size labels
				// the instant but never moves the counter.
				size = e.Aux
			}
			events = append(events, instant("free", "memory", "p", ts, 0,
				map[string]any{"address": hexHandle(e.Handle), "size": size}))
			if memory && tracked {
				events = append(events, counterEvent(ts, allocated))
			}
		}
	}

	out := map[string]any{
		"traceEvents":     events,
		"displayTimeUnit": "ms",
		"metadata": map[string]any{
			"cpu_frequency": s.ClockHz,
			"task_registry": registryMap(s),
			"total_events":  len(s.Events),
		},
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal chrome trace: %w", err)
	}
	return b, nil
}

func counterEvent(ts float64, bytes uint64) map[string]any {
	return map[string]any{
		"name": "Memory Usage", "cat": "memory", "ph": "C",
		"ts": ts, "pid": 0,
		"args": map[string]any{"bytes": bytes},
	}
}

// titleName renders an event kind as words: QUEUE_SEND to "Queue Send".
func titleName(k tracer.Kind) string {
	words := strings.Split(k.String(), "_")
	for i, w := range words {
		if len(w) > 1 {
			words[i] = w[:1] + strings.ToLower(w[1:])
		}
	}
	return strings.Join(words, " ")
}
