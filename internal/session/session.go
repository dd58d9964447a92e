// Package session accumulates per-stroke records for one rowing session and
// guarantees periodic durable persistence. At most one flush interval of
// strokes can be lost on a crash; everything before the last successful flush
// is already on disk.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Default flush trigger values, overridable via options.
const (
	DefaultFlushInterval     = time.Minute
	DefaultFlushAfterStrokes = 10
)

var (
	// ErrAlreadyPaused is returned by Pause when a pause interval is already open.
	ErrAlreadyPaused = errors.New("session is already paused")

	// ErrNotPaused is returned by Resume when no pause interval is open.
	ErrNotPaused = errors.New("session is not paused")
)

// Stroke is one rowing stroke derived from two consecutive device readings.
// Distance and duration are deltas; the remaining fields are instantaneous
// values copied from the newer reading. Strokes are never mutated after
// creation.
type Stroke struct {
	Seq             int       `json:"seq"`
	RecordedAt      time.Time `json:"recordedAt"`
	DistanceM       float64   `json:"strokeDistanceM"`
	DurationSecs    float64   `json:"strokeDurationSecs"`
	Pace500mSecs    int       `json:"pace500mSecs"`
	StrokesPerMin   int       `json:"strokesPerMin"`
	PowerWatts      int       `json:"powerWatts"`
	CaloriesPerHour int       `json:"caloriesPerHour"`
	Resistance      int       `json:"resistanceLevel"`

	// Anomaly marks a negative delta caused by a misbehaving device. The
	// stroke is stored as-is, never corrected.
	Anomaly bool `json:"anomaly,omitempty"`
}

// PauseInterval is a time range during which the device link was down. A zero
// ResumedAt means the interval is still open.
type PauseInterval struct {
	PausedAt  time.Time
	ResumedAt time.Time
}

// Stats is an immutable snapshot of the running session statistics.
type Stats struct {
	NumStrokes        int     `json:"numStrokes"`
	TotalDistanceM    float64 `json:"totalDistanceM"`
	// TotalDurationSecs is active rowing time: the sum of stroke duration
	// deltas. Pause time never enters it, since the baseline resets on
	// every reconnect and the reading spanning the outage emits no stroke.
	TotalDurationSecs float64 `json:"totalDurationSecs"`
	AvgPowerWatts     float64 `json:"avgPowerWatts"`
	MaxPowerWatts     int     `json:"maxPowerWatts"`
	AvgStrokesPerMin  float64 `json:"avgStrokesPerMin"`
	MaxStrokesPerMin  int     `json:"maxStrokesPerMin"`
	AvgPace500mSecs   float64 `json:"avgPace500mSecs"`
	TotalCalories     int     `json:"totalCalories"`
	TotalPauseSecs    float64 `json:"totalPauseSecs"`
	Paused            bool    `json:"paused"`
}

// Flusher is the durable sink for session data. Implemented by storage.Store.
type Flusher interface {
	AppendStrokes(ctx context.Context, sessionID int64, strokes []Stroke) error
	RecordPause(ctx context.Context, sessionID int64, pause PauseInterval) error
	FinalizeSession(ctx context.Context, sessionID int64, totalPauseSecs float64, endedAt time.Time) error
}

// WithLogger sets the logger for the session.
func WithLogger(logger *slog.Logger) func(*Session) {
	return func(s *Session) {
		s.logger = logger.With(slog.String("session", s.StartID()))
	}
}

// WithFlushInterval sets the periodic flush trigger.
func WithFlushInterval(d time.Duration) func(*Session) {
	return func(s *Session) {
		s.flushInterval = d
	}
}

// WithFlushAfterStrokes sets the count-based flush trigger.
func WithFlushAfterStrokes(n int) func(*Session) {
	return func(s *Session) {
		s.flushAfterStrokes = n
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) func(*Session) {
	return func(s *Session) {
		s.now = now
	}
}

// Session owns the in-memory stroke list for one active rowing session. All
// mutation happens from the monitor loop; LiveStats may be called
// concurrently and holds the lock only long enough to copy the accumulators.
type Session struct {
	id        int64
	startedAt time.Time
	store     Flusher
	logger    *slog.Logger
	now       func() time.Time

	flushInterval     time.Duration
	flushAfterStrokes int

	mu        sync.Mutex
	strokes   []Stroke
	pauses    []PauseInterval
	flushed   int // index of the first unflushed stroke
	lastFlush time.Time
	paused    bool
	finalized bool

	// live-stats accumulators, updated on every AddStroke
	sumDistance    float64
	sumDuration    float64
	sumPower       int
	maxPower       int
	sumSPM         int
	maxSPM         int
	sumPace        int
	sumCalories    int
	totalPauseSecs float64
}

// New creates a session backed by the given durable store. The id must
// already exist in the store; startedAt is the session start time the id was
// derived from.
func New(id int64, startedAt time.Time, store Flusher, options ...func(*Session)) *Session {
	s := Session{
		id:                id,
		startedAt:         startedAt,
		store:             store,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:               time.Now,
		flushInterval:     DefaultFlushInterval,
		flushAfterStrokes: DefaultFlushAfterStrokes,
	}

	for _, option := range options {
		option(&s)
	}

	s.lastFlush = s.now()
	return &s
}

// ID returns the durable store identifier of the session.
func (s *Session) ID() int64 { return s.id }

// StartedAt returns the session start time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// StartID returns the human-readable session identifier derived from the
// start time, e.g. "2026-08-29_07-30-00".
func (s *Session) StartID() string {
	return s.startedAt.Format("2006-01-02_15-04-05")
}

// AddStroke appends a stroke, stamps its sequence number and timestamp, and
// updates the running statistics.
func (s *Session) AddStroke(st Stroke) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.Seq = len(s.strokes) + 1
	if st.RecordedAt.IsZero() {
		st.RecordedAt = s.now()
	}
	s.strokes = append(s.strokes, st)

	s.sumDistance += st.DistanceM
	s.sumDuration += st.DurationSecs
	s.sumPower += st.PowerWatts
	s.maxPower = max(s.maxPower, st.PowerWatts)
	s.sumSPM += st.StrokesPerMin
	s.maxSPM = max(s.maxSPM, st.StrokesPerMin)
	s.sumPace += st.Pace500mSecs
	s.sumCalories += st.CaloriesPerHour
}

// Pause opens a new pause interval and flushes all unflushed strokes so that
// nothing buffered is lost while the link is down. Fails with
// ErrAlreadyPaused if a pause interval is already open.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return ErrAlreadyPaused
	}

	s.paused = true
	s.pauses = append(s.pauses, PauseInterval{PausedAt: s.now()})

	if err := s.flushLocked(ctx); err != nil {
		// Not fatal: the buffer is retained and retried on the next trigger.
		s.logger.Warn("flush on pause failed, strokes retained in memory", slog.Any("error", err))
	}
	return nil
}

// Resume closes the open pause interval, adds its duration to the pause
// total and persists the closed interval. Fails with ErrNotPaused if no
// pause interval is open.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeLocked(ctx)
}

func (s *Session) resumeLocked(ctx context.Context) error {
	if !s.paused {
		return ErrNotPaused
	}

	last := &s.pauses[len(s.pauses)-1]
	last.ResumedAt = s.now()
	s.totalPauseSecs += last.ResumedAt.Sub(last.PausedAt).Seconds()
	s.paused = false

	if err := s.store.RecordPause(ctx, s.id, *last); err != nil {
		s.logger.Warn("recording pause interval failed", slog.Any("error", err))
	}
	return nil
}

// MaybeFlush performs a durable partial write when either the flush interval
// has elapsed or enough strokes have accumulated, whichever occurs first. A
// write failure is returned but not fatal: the buffer is retained and the
// next trigger retries.
func (s *Session) MaybeFlush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unflushed := len(s.strokes) - s.flushed
	if unflushed == 0 {
		s.lastFlush = s.now()
		return nil
	}

	if unflushed < s.flushAfterStrokes && s.now().Sub(s.lastFlush) < s.flushInterval {
		return nil
	}
	return s.flushLocked(ctx)
}

// flushLocked writes the strokes beyond the flushed offset. The offset
// advances only after the write succeeds, so it never points past the last
// record actually written.
func (s *Session) flushLocked(ctx context.Context) error {
	pending := s.strokes[s.flushed:]
	if len(pending) == 0 {
		return nil
	}

	if err := s.store.AppendStrokes(ctx, s.id, pending); err != nil {
		return fmt.Errorf("flushing %d strokes: %w", len(pending), err)
	}

	s.flushed = len(s.strokes)
	s.lastFlush = s.now()

	s.logger.Debug("session flushed",
		slog.Int("strokes", len(pending)),
		slog.Int("total", len(s.strokes)))
	return nil
}

// Finalize flushes any remaining strokes and closes the session in the
// durable store. It runs on every exit path and is idempotent: after the
// first successful call it is a no-op. An error here is the final outcome
// for the caller; flushed strokes are already safe on disk.
func (s *Session) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil
	}

	if s.paused {
		if err := s.resumeLocked(ctx); err != nil {
			return err
		}
	}

	if err := s.flushLocked(ctx); err != nil {
		s.logger.Error("final flush failed, unflushed strokes lost",
			slog.Int("unflushed", len(s.strokes)-s.flushed),
			slog.Any("error", err))
		return err
	}

	if err := s.store.FinalizeSession(ctx, s.id, s.totalPauseSecs, s.now()); err != nil {
		return fmt.Errorf("finalizing session: %w", err)
	}

	s.finalized = true
	return nil
}

// LiveStats returns a snapshot of the running statistics. O(1): computed
// from the incremental accumulators, never by rescanning the stroke list.
func (s *Session) LiveStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		NumStrokes:        len(s.strokes),
		TotalDistanceM:    s.sumDistance,
		TotalDurationSecs: s.sumDuration,
		MaxPowerWatts:     s.maxPower,
		MaxStrokesPerMin:  s.maxSPM,
		TotalCalories:     s.sumCalories,
		TotalPauseSecs:    s.totalPauseSecs,
		Paused:            s.paused,
	}

	if n := len(s.strokes); n > 0 {
		st.AvgPowerWatts = float64(s.sumPower) / float64(n)
		st.AvgStrokesPerMin = float64(s.sumSPM) / float64(n)
		st.AvgPace500mSecs = float64(s.sumPace) / float64(n)
	}
	return st
}
