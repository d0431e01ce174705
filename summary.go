package ashiato

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
)

// Summary renders a human-readable session report: span, event counts,
// decode diagnostics, per-task runtime, ISR and idle totals, and memory
// accounting when heap events are present.
func Summary(s *TraceSession) string {
	tl := Reconstruct(s)
	st := tl.Stats

	var b strings.Builder
	fmt.Fprintf(&b, "Trace session %s\n", s.ID)
	fmt.Fprintf(&b, "Events: %d  span: %d cycles (%.6f s at %d Hz)\n",
		len(s.Events), st.Span, st.SpanSeconds, s.ClockHz)
	fmt.Fprintf(&b, "Markers: %d start, %d stop  registry: %d objects\n",
		s.Diagnostics.Starts, s.Diagnostics.Stops, s.Registry.Len())
	if d := s.Diagnostics; d.SkippedBytes > 0 || d.Resyncs > 0 || d.TrailingBytes > 0 {
		fmt.Fprintf(&b, "Diagnostics: %d bytes skipped, %d resyncs, %d trailing bytes\n",
			d.SkippedBytes, d.Resyncs, d.TrailingBytes)
	}
	if st.UnmatchedOpens > 0 || st.UnmatchedCloses > 0 {
		fmt.Fprintf(&b, "Pairing: %d unmatched opens, %d unmatched closes\n",
			st.UnmatchedOpens, st.UnmatchedCloses)
	}

	if len(s.Events) > 0 {
		b.WriteString("\nEvent counts:\n")
		writeEventCounts(&b, s)
	}

	if len(st.Tasks) > 0 {
		b.WriteString("\nTask runtime (closed intervals):\n")
		tw := tabwriter.NewWriter(&b, 2, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  NAME\tSWITCHES\tTOTAL\tMIN\tMAX\tMEAN\tCPU%")
		for _, t := range st.Tasks {
			fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\t%.1f\t%.2f\n",
				t.Name, t.Switches, t.Total, t.Min, t.Max, t.Mean, t.CPUPercent)
		}
		tw.Flush()
	}

	if st.ISR.Count > 0 {
		fmt.Fprintf(&b, "\nISR: %d intervals, total %d cycles, min %d, max %d, mean %.1f\n",
			st.ISR.Count, st.ISR.Total, st.ISR.Min, st.ISR.Max, st.ISR.Mean)
	}
	if st.Span > 0 {
		fmt.Fprintf(&b, "Idle: %d cycles (%.2f%%)\n", st.IdleCycles, st.IdlePercent)
	}

	m := st.Memory
	if m.Allocs > 0 || m.UntrackedFrees > 0 {
		fmt.Fprintf(&b, "Memory: %d allocs, %d frees, %d bytes live, %d peak, %d outstanding\n",
			m.Allocs, m.Frees, m.CurrentBytes, m.PeakBytes, len(m.Outstanding))
		if m.DoubleAllocs > 0 || m.UntrackedFrees > 0 {
			fmt.Fprintf(&b, "Memory warnings: %d double allocations, %d untracked frees\n",
				m.DoubleAllocs, m.UntrackedFrees)
		}
	}

	nOpen := 0
	for _, iv := range tl.Intervals {
		if iv.Open {
			nOpen++
		}
	}
	if nOpen > 0 {
		fmt.Fprintf(&b, "Open intervals at session end: %d\n", nOpen)
	}
	return b.String()
}

func writeEventCounts(b *strings.Builder, s *TraceSession) {
	counts := make(map[string]int)
	for _, e := range s.Events {
		counts[e.Kind.String()]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	total := len(s.Events)
	for _, name := range names {
		fmt.Fprintf(b, "  %-20s %6d (%.1f%%)\n", name, counts[name],
			float64(counts[name])/float64(total)*100)
	}
}
