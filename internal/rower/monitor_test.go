package rower

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fluidrower/rowmon/internal/session"
)

// recordingStore is a session.Flusher capturing every durable write.
type recordingStore struct {
	strokes   []session.Stroke
	pauses    []session.PauseInterval
	finalized int
}

func (r *recordingStore) AppendStrokes(_ context.Context, _ int64, strokes []session.Stroke) error {
	r.strokes = append(r.strokes, strokes...)
	return nil
}

func (r *recordingStore) RecordPause(_ context.Context, _ int64, pause session.PauseInterval) error {
	r.pauses = append(r.pauses, pause)
	return nil
}

func (r *recordingStore) FinalizeSession(context.Context, int64, float64, time.Time) error {
	r.finalized++
	return nil
}

// step is one scripted ReadLine result. fn runs as a side effect, e.g. to
// cancel the run context at a chosen point.
type step struct {
	line string
	err  error
	fn   func()
}

// fakeLink replays a script of read results. An exhausted script reads as a
// silent device.
type fakeLink struct {
	steps  []step
	pos    int
	writes []byte
	closed bool
}

func (l *fakeLink) ReadLine() (string, error) {
	if l.pos >= len(l.steps) {
		return "", ErrReadTimeout
	}
	s := l.steps[l.pos]
	l.pos++
	if s.fn != nil {
		s.fn()
	}
	return s.line, s.err
}

func (l *fakeLink) WriteCommand(c byte) error {
	l.writes = append(l.writes, c)
	return nil
}

func (l *fakeLink) Close() error {
	l.closed = true
	return nil
}

// scriptDialer hands out the given links in order, then fails.
func scriptDialer(links ...*fakeLink) Dialer {
	i := 0
	return func() (Link, error) {
		if i >= len(links) {
			return nil, errors.New("device unplugged")
		}
		l := links[i]
		i++
		return l, nil
	}
}

// makeFrame builds a telemetry frame with the given cumulative counters and
// fixed instantaneous values.
func makeFrame(durationSecs, distanceM int) string {
	return fmt.Sprintf("A5%05d%05d0%02d%02d%03d%03d%04d%02d",
		durationSecs, distanceM, 2, 19, 22, 129, 744, 9)
}

func newTestMonitor(t *testing.T, dial Dialer, store *recordingStore, options ...func(*Monitor)) *Monitor {
	t.Helper()
	factory := func() (*session.Session, error) {
		return session.New(1, time.Now(), store), nil
	}
	options = append([]func(*Monitor){WithBackoff(time.Millisecond)}, options...)
	return NewMonitor(dial, factory, options...)
}

func TestMonitor_RecordsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var published []session.Stroke
	link := &fakeLink{steps: []step{
		{err: ErrReadTimeout},          // first connect request unanswered
		{line: "C2.1"},                 // handshake ack with firmware version
		{line: makeFrame(0, 0)},        // pending output drained before reset ack
		{line: "R"},                    // reset ack
		{line: makeFrame(1, 10)},       // establishes the baseline
		{line: makeFrame(3, 20)},       // first stroke
		{line: makeFrame(5, 31), fn: cancel}, // second stroke, then user stop
	}}
	store := &recordingStore{}
	m := newTestMonitor(t, scriptDialer(link), store,
		WithPublisher(func(st session.Stroke, _ session.Stats) {
			published = append(published, st)
		}))

	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := m.State(); got != StateEnded {
		t.Errorf("Expected state ended, got %s", got)
	}
	if !link.closed {
		t.Error("Link must be closed on exit")
	}
	if string(link.writes) != "CCR" {
		t.Errorf("Expected command sequence CCR, got %q", link.writes)
	}

	if store.finalized != 1 {
		t.Fatalf("Expected exactly one finalize, got %d", store.finalized)
	}
	if len(store.strokes) != 2 {
		t.Fatalf("Expected 2 strokes persisted, got %d", len(store.strokes))
	}
	if store.strokes[0].DistanceM != 10 || store.strokes[1].DistanceM != 11 {
		t.Errorf("Unexpected stroke deltas: %+v", store.strokes)
	}
	if len(published) != 2 {
		t.Errorf("Expected 2 published samples, got %d", len(published))
	}
}

func TestMonitor_HandshakeTimeout(t *testing.T) {
	link := &fakeLink{} // never answers
	factoryCalled := false
	m := NewMonitor(scriptDialer(link), func() (*session.Session, error) {
		factoryCalled = true
		return nil, errors.New("unreachable")
	}, WithHandshakeAttempts(3))

	err := m.Run(context.Background())
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("Expected ErrHandshakeTimeout, got %v", err)
	}
	if factoryCalled {
		t.Error("A failed handshake must not create a session")
	}
	if got := m.State(); got != StateEnded {
		t.Errorf("Expected state ended, got %s", got)
	}
}

func TestMonitor_ReconnectAfterLinkFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	link1 := &fakeLink{steps: []step{
		{line: "C"},
		{line: "R"},
		{line: makeFrame(1, 10)},
		{line: makeFrame(3, 20)},
		{err: errors.New("serial port gone")},
	}}
	// Device counters restart near zero on the new connection.
	link2 := &fakeLink{steps: []step{
		{line: "C"},
		{line: makeFrame(1, 4)},
		{line: makeFrame(3, 12), fn: cancel},
	}}
	store := &recordingStore{}
	m := newTestMonitor(t, scriptDialer(link1, link2), store)

	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !link1.closed || !link2.closed {
		t.Error("Both links must be closed")
	}
	if len(store.pauses) != 1 {
		t.Fatalf("Expected 1 persisted pause interval, got %d", len(store.pauses))
	}
	if store.pauses[0].ResumedAt.IsZero() {
		t.Error("Pause interval must be closed on resume")
	}

	// The first reading on the new link only re-establishes the baseline,
	// so no giant negative stroke appears across the reconnect.
	if len(store.strokes) != 2 {
		t.Fatalf("Expected 2 strokes persisted, got %d", len(store.strokes))
	}
	for i, st := range store.strokes {
		if st.Anomaly {
			t.Errorf("Stroke %d flagged as anomaly across reconnect: %+v", i, st)
		}
	}
	if store.strokes[1].DistanceM != 8 {
		t.Errorf("Expected post-reconnect delta 8.0m, got %.1f", store.strokes[1].DistanceM)
	}
}

func TestMonitor_SilenceTriggersReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	link1 := &fakeLink{steps: []step{
		{line: "C"},
		{line: "R"},
		{line: makeFrame(1, 10)},
		// Script exhausted: every further read times out.
	}}
	link2 := &fakeLink{steps: []step{
		{line: "C"},
		{line: makeFrame(1, 5)},
		{line: makeFrame(2, 11), fn: cancel},
	}}
	store := &recordingStore{}
	m := newTestMonitor(t, scriptDialer(link1, link2), store, WithSilenceThreshold(3))

	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(store.pauses) != 1 {
		t.Errorf("Expected sustained silence to trigger a reconnect, got %d pauses", len(store.pauses))
	}
}

func TestMonitor_DecodeErrorsTriggerReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	link1 := &fakeLink{steps: []step{
		{line: "C"},
		{line: "R"},
		{line: "A5garbage"},
		{line: "A5moregarbage"},
	}}
	link2 := &fakeLink{steps: []step{
		{line: "C"},
		{line: makeFrame(1, 5), fn: cancel},
	}}
	store := &recordingStore{}
	m := newTestMonitor(t, scriptDialer(link1, link2), store, WithDecodeErrorsThreshold(2))

	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(store.pauses) != 1 {
		t.Errorf("Expected repeated decode failures to trigger a reconnect, got %d pauses", len(store.pauses))
	}
}

func TestMonitor_ReconnectExhausted(t *testing.T) {
	link := &fakeLink{steps: []step{
		{line: "C"},
		{line: "R"},
		{line: makeFrame(1, 10)},
		{err: errors.New("serial port gone")},
	}}
	store := &recordingStore{}
	m := newTestMonitor(t, scriptDialer(link), store, WithMaxReconnects(2))

	err := m.Run(context.Background())
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("Expected ErrReconnectExhausted, got %v", err)
	}

	// Everything recorded before the failure survives.
	if store.finalized != 1 {
		t.Errorf("Expected the session to be finalized, got %d", store.finalized)
	}
	if got := m.State(); got != StateEnded {
		t.Errorf("Expected state ended, got %s", got)
	}
}

func TestMonitor_IllegalTransitionRejected(t *testing.T) {
	m := NewMonitor(nil, nil)

	if err := m.transition(StateActive); err == nil {
		t.Error("Expected disconnected -> active to be rejected")
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("State must be unchanged after a rejected transition, got %s", got)
	}
}
