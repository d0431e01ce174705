package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashiato-rt/ashiato"
)

// SessionRecord is the stored form of one analyzed trace session.
type SessionRecord struct {
	ID           uuid.UUID
	CapturedAt   time.Time
	Source       string
	ClockHz      uint64
	TotalEvents  int
	SpanCycles   uint64
	SpanSeconds  float64
	IdlePercent  float64
	SkippedBytes int
	Resyncs      int
	Registry     map[string]string // decimal handle -> task name
	Tasks        []ashiato.TaskStats
}

// SessionSummary is the listing view of a stored session.
type SessionSummary struct {
	ID          uuid.UUID
	CapturedAt  time.Time
	Source      string
	TotalEvents int
	SpanSeconds float64
	IdlePercent float64
}

// RecordFromSession assembles a SessionRecord from a decoded session and
// its reconstructed statistics. source labels where the bytes came from,
// typically a file path or dial address.
func RecordFromSession(s *ashiato.TraceSession, stats ashiato.Stats, source string) SessionRecord {
	registry := make(map[string]string, s.Registry.Len())
	for _, e := range s.Registry.Entries() {
		registry[strconv.FormatUint(uint64(e.Handle), 10)] = e.Name
	}
	return SessionRecord{
		ID:           s.ID,
		Source:       source,
		ClockHz:      s.ClockHz,
		TotalEvents:  len(s.Events),
		SpanCycles:   s.Span(),
		SpanSeconds:  stats.SpanSeconds,
		IdlePercent:  stats.IdlePercent,
		SkippedBytes: s.Diagnostics.SkippedBytes,
		Resyncs:      s.Diagnostics.Resyncs,
		Registry:     registry,
		Tasks:        stats.Tasks,
	}
}

// SaveSession inserts a session and its task breakdown atomically.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	if rec.ID == uuid.Nil {
		return fmt.Errorf("store: session id is required")
	}
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = time.Now().UTC()
	}
	registry := rec.Registry
	if registry == nil {
		registry = map[string]string{}
	}
	registryJSON, err := json.Marshal(registry)
	if err != nil {
		return fmt.Errorf("store: marshal registry: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, captured_at, source, clock_hz, total_events,
		 span_cycles, span_seconds, idle_percent, skipped_bytes, resyncs, registry)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.CapturedAt.UTC().Format(time.RFC3339Nano), rec.Source,
		int64(rec.ClockHz), rec.TotalEvents, int64(rec.SpanCycles), rec.SpanSeconds,
		rec.IdlePercent, rec.SkippedBytes, rec.Resyncs, string(registryJSON),
	); err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}

	for _, task := range rec.Tasks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_stats (session_id, handle, name, switches,
			 total_cycles, min_cycles, max_cycles, mean_cycles, cpu_percent)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID.String(), int64(task.Handle), task.Name, task.Switches,
			int64(task.Total), int64(task.Min), int64(task.Max), task.Mean, task.CPUPercent,
		); err != nil {
			return fmt.Errorf("store: insert task stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit save tx: %w", err)
	}
	return nil
}

// GetSession returns a stored session with its task breakdown.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (SessionRecord, error) {
	var (
		rec          SessionRecord
		idStr        string
		capturedAt   string
		clockHz      int64
		spanCycles   int64
		registryJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, captured_at, source, clock_hz, total_events, span_cycles,
		 span_seconds, idle_percent, skipped_bytes, resyncs, registry
		 FROM sessions WHERE id = ?`, id.String(),
	).Scan(&idStr, &capturedAt, &rec.Source, &clockHz, &rec.TotalEvents, &spanCycles,
		&rec.SpanSeconds, &rec.IdlePercent, &rec.SkippedBytes, &rec.Resyncs, &registryJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("store: get session: %w", err)
	}

	rec.ID, err = uuid.Parse(idStr)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("store: parse session id: %w", err)
	}
	rec.CapturedAt, err = time.Parse(time.RFC3339Nano, capturedAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("store: parse captured_at: %w", err)
	}
	rec.ClockHz = uint64(clockHz)
	rec.SpanCycles = uint64(spanCycles)
	if err := json.Unmarshal([]byte(registryJSON), &rec.Registry); err != nil {
		return SessionRecord{}, fmt.Errorf("store: unmarshal registry: %w", err)
	}

	rec.Tasks, err = s.TaskStats(ctx, id)
	if err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

// ListSessions returns stored sessions, newest first. limit <= 0 means a
// default of 50.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, captured_at, source, total_events, span_seconds, idle_percent
		 FROM sessions ORDER BY captured_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum        SessionSummary
			idStr      string
			capturedAt string
		)
		if err := rows.Scan(&idStr, &capturedAt, &sum.Source, &sum.TotalEvents,
			&sum.SpanSeconds, &sum.IdlePercent); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		if sum.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("store: parse session id: %w", err)
		}
		if sum.CapturedAt, err = time.Parse(time.RFC3339Nano, capturedAt); err != nil {
			return nil, fmt.Errorf("store: parse captured_at: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// TaskStats returns the per-task breakdown for a stored session, busiest
// first. Returns ErrNotFound when the session does not exist.
func (s *Store) TaskStats(ctx context.Context, id uuid.UUID) ([]ashiato.TaskStats, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ?)`, id.String(),
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("store: check session: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT handle, name, switches, total_cycles, min_cycles, max_cycles,
		 mean_cycles, cpu_percent
		 FROM task_stats WHERE session_id = ?
		 ORDER BY total_cycles DESC, handle`, id.String())
	if err != nil {
		return nil, fmt.Errorf("store: query task stats: %w", err)
	}
	defer rows.Close()

	var out []ashiato.TaskStats
	for rows.Next() {
		var (
			task           ashiato.TaskStats
			handle, totalC int64
			minC, maxC     int64
		)
		if err := rows.Scan(&handle, &task.Name, &task.Switches, &totalC, &minC, &maxC,
			&task.Mean, &task.CPUPercent); err != nil {
			return nil, fmt.Errorf("store: scan task stats: %w", err)
		}
		task.Handle = uint32(handle)
		task.Total = uint64(totalC)
		task.Min = uint64(minC)
		task.Max = uint64(maxC)
		out = append(out, task)
	}
	return out, rows.Err()
}
