package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashiato-rt/ashiato"
	"github.com/ashiato-rt/ashiato/migrations"
	"github.com/ashiato-rt/ashiato/tracer"
)

func TestStore_MigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background(), migrations.FS),
		"second migrate must skip already-applied files")
}

func TestStore_SaveAndGetSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := SessionRecord{
		ID:           uuid.New(),
		CapturedAt:   time.Date(2026, 8, 25, 10, 30, 0, 123456789, time.UTC),
		Source:       "captures/run1.bin",
		ClockHz:      168_000_000,
		TotalEvents:  1234,
		SpanCycles:   5_000_000,
		SpanSeconds:  0.0297,
		IdlePercent:  41.5,
		SkippedBytes: 16,
		Resyncs:      1,
		Registry:     map[string]string{"4096": "Blink", "8192": "Sensor"},
		Tasks: []ashiato.TaskStats{
			{Handle: 4096, Name: "Blink", Switches: 10, Total: 3000, Min: 100, Max: 500, Mean: 300, CPUPercent: 60},
			{Handle: 8192, Name: "Sensor", Switches: 5, Total: 1000, Min: 150, Max: 250, Mean: 200, CPUPercent: 20},
		},
	}
	require.NoError(t, s.SaveSession(ctx, rec))

	got, err := s.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, rec.CapturedAt.Equal(got.CapturedAt), "captured_at must round-trip exactly")
	assert.Equal(t, rec.Source, got.Source)
	assert.Equal(t, rec.ClockHz, got.ClockHz)
	assert.Equal(t, rec.TotalEvents, got.TotalEvents)
	assert.Equal(t, rec.SpanCycles, got.SpanCycles)
	assert.Equal(t, rec.SkippedBytes, got.SkippedBytes)
	assert.Equal(t, rec.Resyncs, got.Resyncs)
	assert.Equal(t, rec.Registry, got.Registry)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, "Blink", got.Tasks[0].Name, "tasks come back busiest first")
	assert.Equal(t, rec.Tasks, got.Tasks)
}

func TestStore_GetSessionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSession(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.TaskStats(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveRequiresID(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveSession(context.Background(), SessionRecord{})
	require.Error(t, err)
}

func TestStore_ListSessionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		rec := SessionRecord{
			ID:          uuid.New(),
			CapturedAt:  base.Add(time.Duration(i) * time.Minute),
			Source:      "run",
			ClockHz:     168_000_000,
			TotalEvents: i,
		}
		require.NoError(t, s.SaveSession(ctx, rec))
		ids = append(ids, rec.ID)
	}

	got, err := s.ListSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2, "limit must cap the listing")
	assert.Equal(t, ids[2], got[0].ID, "newest session first")
	assert.Equal(t, ids[1], got[1].ID)
}

func TestRecordFromSession(t *testing.T) {
	session := &ashiato.TraceSession{
		ID:      uuid.New(),
		ClockHz: 168_000_000,
		Events: []ashiato.Event{
			{Event: tracer.Event{Kind: tracer.KindTaskSwitchedIn, Timestamp: 100, Handle: 7}, Time: 100},
			{Event: tracer.Event{Kind: tracer.KindTaskSwitchedOut, Timestamp: 400, Handle: 7}, Time: 400},
		},
	}
	session.Registry.Add(7, "Worker")
	session.Diagnostics.SkippedBytes = 3
	session.Diagnostics.Resyncs = 1

	stats := ashiato.Stats{
		SpanSeconds: 300.0 / 168e6,
		IdlePercent: 0,
		Tasks:       []ashiato.TaskStats{{Handle: 7, Name: "Worker", Switches: 1, Total: 300}},
	}

	rec := RecordFromSession(session, stats, "probe:4444")
	assert.Equal(t, session.ID, rec.ID)
	assert.Equal(t, "probe:4444", rec.Source)
	assert.Equal(t, uint64(168_000_000), rec.ClockHz)
	assert.Equal(t, 2, rec.TotalEvents)
	assert.Equal(t, uint64(300), rec.SpanCycles)
	assert.Equal(t, 3, rec.SkippedBytes)
	assert.Equal(t, 1, rec.Resyncs)
	assert.Equal(t, map[string]string{"7": "Worker"}, rec.Registry)
	require.Len(t, rec.Tasks, 1)
}

// --- helpers ---

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(context.Background(), path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background(), migrations.FS))
	return s
}
