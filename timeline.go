package ashiato

import (
	"sort"

	"github.com/ashiato-rt/ashiato/tracer"
)

// Reconstruct pairs the session's events into execution intervals and
// aggregates statistics. It is a pure function of the session.
//
// Pairing is per subject: every task handle matches its own switched-in
// and switched-out events, and interrupts form a single non-nesting
// pseudo-subject under handle 0. A start that displaces a still-open
// interval or an end with nothing open is counted, never guessed around.
// Intervals left open at session end are reported with Open set and are
// excluded from all sums, so statistics only ever describe execution that
// is fully observed.
func Reconstruct(s *TraceSession) *Timeline {
	tl := &Timeline{}
	if len(s.Events) == 0 {
		return tl
	}

	lastTime := s.Events[len(s.Events)-1].Time
	span := s.Span()

	taskOpen := make(map[uint32]uint64)
	var isrStart uint64
	isrOpen := false

	agg := make(map[uint32]*TaskStats)
	var isr ISRStats
	mem := memoryState{live: make(map[uint32]uint32)}
	stats := &tl.Stats

	closeTask := func(handle uint32, start, end uint64) {
		iv := Interval{
			Kind:   IntervalTask,
			Handle: handle,
			Name:   s.Name(handle),
			Start:  start,
			End:    end,
		}
		tl.Intervals = append(tl.Intervals, iv)

		a := agg[handle]
		if a == nil {
			a = &TaskStats{Handle: handle, Name: iv.Name, Min: iv.Duration()}
			agg[handle] = a
		}
		d := iv.Duration()
		a.Switches++
		a.Total += d
		if d < a.Min {
			a.Min = d
		}
		if d > a.Max {
			a.Max = d
		}
	}

	closeISR := func(start, end uint64) {
		iv := Interval{Kind: IntervalISR, Name: "ISR", Start: start, End: end}
		tl.Intervals = append(tl.Intervals, iv)

		d := iv.Duration()
		if isr.Count == 0 || d < isr.Min {
			isr.Min = d
		}
		if d > isr.Max {
			isr.Max = d
		}
		isr.Count++
		isr.Total += d
	}

	for _, e := range s.Events {
		switch e.Kind {
		case tracer.KindTaskSwitchedIn:
			if _, open := taskOpen[e.Handle]; open {
				stats.UnmatchedOpens++
			}
			taskOpen[e.Handle] = e.Time

		case tracer.KindTaskSwitchedOut:
			start, open := taskOpen[e.Handle]
			if !open {
				stats.UnmatchedCloses++
				continue
			}
			delete(taskOpen, e.Handle)
			closeTask(e.Handle, start, e.Time)

		case tracer.KindISREnter:
			if isrOpen {
				stats.UnmatchedOpens++
			}
			isrStart = e.Time
			isrOpen = true

		case tracer.KindISRExit:
			if !isrOpen {
				stats.UnmatchedCloses++
				continue
			}
			isrOpen = false
			closeISR(isrStart, e.Time)

		case tracer.KindMalloc:
			mem.alloc(e.Handle, e.Aux, e.Time)

		case tracer.KindFree:
			mem.free(e.Handle, e.Time)
		}
	}

	// Report what never closed.
	var opens []Interval
	for handle, start := range taskOpen {
		opens = append(opens, Interval{
			Kind:   IntervalTask,
			Handle: handle,
			Name:   s.Name(handle),
			Start:  start,
			End:    lastTime,
			Open:   true,
		})
	}
	sort.Slice(opens, func(i, j int) bool { return opens[i].Start < opens[j].Start })
	if isrOpen {
		opens = append(opens, Interval{Kind: IntervalISR, Name: "ISR", Start: isrStart, End: lastTime, Open: true})
	}
	tl.Intervals = append(tl.Intervals, opens...)

	stats.Span = span
	stats.SpanSeconds = cyclesToSeconds(span, s.ClockHz)
	stats.ISR = isr
	if isr.Count > 0 {
		stats.ISR.Mean = float64(isr.Total) / float64(isr.Count)
	}

	var taskTotal uint64
	for _, a := range agg {
		a.Mean = float64(a.Total) / float64(a.Switches)
		if span > 0 {
			a.CPUPercent = float64(a.Total) / float64(span) * 100
		}
		taskTotal += a.Total
		stats.Tasks = append(stats.Tasks, *a)
	}
	sort.Slice(stats.Tasks, func(i, j int) bool {
		if stats.Tasks[i].Total != stats.Tasks[j].Total {
			return stats.Tasks[i].Total > stats.Tasks[j].Total
		}
		return stats.Tasks[i].Handle < stats.Tasks[j].Handle
	})

	if busy := taskTotal + isr.Total; span > busy {
		stats.IdleCycles = span - busy
	}
	if span > 0 {
		stats.IdlePercent = float64(stats.IdleCycles) / float64(span) * 100
	}

	stats.Memory = mem.finish()
	return tl
}

// memoryState pairs heap events by address.
type memoryState struct {
	live    map[uint32]uint32
	order   []Allocation
	current uint64
	stats   MemoryStats
}

func (m *memoryState) alloc(addr, size uint32, t uint64) {
	if size == 0 {
		// The counter stays put; a zero-size allocation cannot be
		// balanced by its free.
		return
	}
	if old, ok := m.live[addr]; ok {
		m.stats.DoubleAllocs++
		m.current -= uint64(old)
		m.removeOutstanding(addr)
	}
	m.live[addr] = size
	m.order = append(m.order, Allocation{Address: addr, Size: size, Time: t})
	m.stats.Allocs++
	m.current += uint64(size)
	if m.current > m.stats.PeakBytes {
		m.stats.PeakBytes = m.current
	}
	m.stats.Series = append(m.stats.Series, MemorySample{Time: t, Bytes: m.current})
}

func (m *memoryState) free(addr uint32, t uint64) {
	size, ok := m.live[addr]
	if !ok {
		m.stats.UntrackedFrees++
		return
	}
	delete(m.live, addr)
	m.removeOutstanding(addr)
	m.stats.Frees++
	m.current -= uint64(size)
	m.stats.Series = append(m.stats.Series, MemorySample{Time: t, Bytes: m.current})
}

func (m *memoryState) removeOutstanding(addr uint32) {
	for i := range m.order {
		if m.order[i].Address == addr {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *memoryState) finish() MemoryStats {
	m.stats.CurrentBytes = m.current
	if len(m.order) > 0 {
		m.stats.Outstanding = append([]Allocation(nil), m.order...)
	}
	return m.stats
}
