package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluidrower/rowmon/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := New(filepath.Join(t.TempDir(), "rowing.sqlite"))
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return store
}

func testStrokes(n int, recordedAt time.Time) []session.Stroke {
	strokes := make([]session.Stroke, n)
	for i := range strokes {
		strokes[i] = session.Stroke{
			Seq:             i + 1,
			RecordedAt:      recordedAt.Add(time.Duration(i) * 2 * time.Second),
			DistanceM:       10.5,
			DurationSecs:    2,
			Pace500mSecs:    139,
			StrokesPerMin:   22,
			PowerWatts:      129,
			CaloriesPerHour: 744,
			Resistance:      9,
		}
	}
	return strokes
}

func TestStore_SessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	startedAt := time.Date(2026, 8, 29, 7, 30, 0, 0, time.UTC)
	id, err := store.CreateSession(ctx, startedAt, "fluid-rower", map[string]string{"port": "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if id < 1 {
		t.Fatalf("Expected a positive session ID, got %d", id)
	}

	if err = store.AppendStrokes(ctx, id, testStrokes(5, startedAt)); err != nil {
		t.Fatalf("Failed to append strokes: %v", err)
	}

	pause := session.PauseInterval{
		PausedAt:  startedAt.Add(time.Minute),
		ResumedAt: startedAt.Add(time.Minute + 30*time.Second),
	}
	if err = store.RecordPause(ctx, id, pause); err != nil {
		t.Fatalf("Failed to record pause: %v", err)
	}

	endedAt := startedAt.Add(10 * time.Minute)
	if err = store.FinalizeSession(ctx, id, 30, endedAt); err != nil {
		t.Fatalf("Failed to finalize session: %v", err)
	}

	sess, err := store.Session(ctx, id)
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if sess.DeviceType != "fluid-rower" {
		t.Errorf("DeviceType: got %q, want fluid-rower", sess.DeviceType)
	}
	if !sess.StartTime.Equal(startedAt) {
		t.Errorf("StartTime: got %v, want %v", sess.StartTime, startedAt)
	}
	if sess.TotalPauseSecs != 30 {
		t.Errorf("TotalPauseSecs: got %.1f, want 30", sess.TotalPauseSecs)
	}
	if !sess.EndedAt.Valid || !sess.EndedAt.Time.Equal(endedAt) {
		t.Errorf("EndedAt: got %+v, want %v", sess.EndedAt, endedAt)
	}
	if !sess.Config.Valid {
		t.Error("Expected config to be stored")
	}

	strokes, err := store.Strokes(ctx, id)
	if err != nil {
		t.Fatalf("Failed to load strokes: %v", err)
	}
	if len(strokes) != 5 {
		t.Fatalf("Expected 5 strokes, got %d", len(strokes))
	}
	for i, st := range strokes {
		if st.Seq != i+1 {
			t.Errorf("Stroke %d: expected seq %d, got %d", i, i+1, st.Seq)
		}
		if st.DistanceM != 10.5 || st.PowerWatts != 129 {
			t.Errorf("Stroke %d: unexpected values %+v", i, st)
		}
	}
}

func TestStore_AppendStrokesIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	startedAt := time.Date(2026, 8, 29, 7, 30, 0, 0, time.UTC)
	id, err := store.CreateSession(ctx, startedAt, "fluid-rower", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	batch := testStrokes(3, startedAt)
	if err = store.AppendStrokes(ctx, id, batch); err != nil {
		t.Fatalf("Failed to append strokes: %v", err)
	}

	// A flush retried after an ambiguous failure rewrites the same batch.
	if err = store.AppendStrokes(ctx, id, batch); err != nil {
		t.Fatalf("Retried append must not fail: %v", err)
	}

	strokes, err := store.Strokes(ctx, id)
	if err != nil {
		t.Fatalf("Failed to load strokes: %v", err)
	}
	if len(strokes) != 3 {
		t.Errorf("Expected 3 strokes after retried batch, got %d", len(strokes))
	}
}

func TestStore_SessionsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 7, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := store.CreateSession(ctx, base.Add(time.Duration(i)*time.Hour), "fluid-rower", nil); err != nil {
			t.Fatalf("Failed to create session %d: %v", i, err)
		}
	}

	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(sessions))
	}
	for i := 1; i < len(sessions); i++ {
		if sessions[i].StartTime.After(sessions[i-1].StartTime) {
			t.Errorf("Sessions must be ordered newest first: %v before %v",
				sessions[i-1].StartTime, sessions[i].StartTime)
		}
	}
}

func TestStore_EmptyBatchIsNoop(t *testing.T) {
	store := newTestStore(t)

	if err := store.AppendStrokes(context.Background(), 1, nil); err != nil {
		t.Errorf("Appending an empty batch must not fail: %v", err)
	}
}
