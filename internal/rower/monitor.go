// Package rower implements the telemetry protocol of the rowing machine and
// the monitor that records a session from it: frame decoding, per-stroke
// delta computation and the connection state machine with pause/resume and
// reconnection handling.
package rower

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fluidrower/rowmon/internal/session"
)

// Single-byte device commands. Connect is echoed back by the device
// (optionally followed by a firmware version); reset acknowledgement is not
// guaranteed.
const (
	cmdConnect byte = 'C'
	cmdReset   byte = 'R'

	// frameMarker is the first character of every telemetry frame.
	frameMarker = 'A'
)

// Default monitor tuning, overridable via options.
const (
	DefaultHandshakeAttempts = 20
	DefaultMaxReconnects     = 5
	DefaultBackoff           = 500 * time.Millisecond

	// DecodeErrorsThreshold is the number of consecutive decode failures
	// tolerated before the link is treated as broken.
	DecodeErrorsThreshold = 5

	// SilenceThreshold is the number of consecutive read timeouts tolerated
	// before the device is considered silent. Idle gaps between strokes are
	// normal, sustained silence is a dead link.
	SilenceThreshold = 5
)

var (
	// ErrHandshakeTimeout is returned when the device never acknowledged the
	// connect request within the attempt ceiling. No session is created.
	ErrHandshakeTimeout = errors.New("handshake timeout: no acknowledgement from device")

	// ErrReconnectExhausted is returned when reconnection attempts after a
	// link failure exceeded the ceiling. The session is finalized first, so
	// all flushed data is preserved.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// State is the connection supervisor state.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateActive
	StatePausedReconnecting
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StatePausedReconnecting:
		return "paused-reconnecting"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// validTransitions guards every state change. An attempt outside this table
// is a programming error and is reported immediately rather than leaving the
// machine in an inconsistent state.
var validTransitions = map[State][]State{
	StateDisconnected:       {StateHandshaking, StateEnded},
	StateHandshaking:        {StateActive, StatePausedReconnecting, StateEnded},
	StateActive:             {StatePausedReconnecting, StateEnded},
	StatePausedReconnecting: {StateHandshaking, StateEnded},
}

// SessionFactory creates the recording session once the first handshake
// succeeds. A failed handshake never creates a session.
type SessionFactory func() (*session.Session, error)

// Publisher receives every recorded stroke together with a fresh live-stats
// snapshot. It must not block: the monitor calls it synchronously from the
// read loop.
type Publisher func(stroke session.Stroke, stats session.Stats)

// WithLogger sets the logger for the monitor.
func WithLogger(logger *slog.Logger) func(*Monitor) {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithHandshakeAttempts sets the connect request attempt ceiling. This
// counter is independent from the reconnect attempt ceiling.
func WithHandshakeAttempts(n int) func(*Monitor) {
	return func(m *Monitor) {
		m.handshakeAttempts = n
	}
}

// WithMaxReconnects sets the reconnection attempt ceiling after a link failure.
func WithMaxReconnects(n int) func(*Monitor) {
	return func(m *Monitor) {
		m.maxReconnects = n
	}
}

// WithBackoff sets the delay between reconnection attempts.
func WithBackoff(d time.Duration) func(*Monitor) {
	return func(m *Monitor) {
		m.backoff = d
	}
}

// WithDecodeErrorsThreshold sets the consecutive decode failure tolerance.
func WithDecodeErrorsThreshold(n int) func(*Monitor) {
	return func(m *Monitor) {
		m.decodeThreshold = n
	}
}

// WithSilenceThreshold sets the consecutive read timeout tolerance.
func WithSilenceThreshold(n int) func(*Monitor) {
	return func(m *Monitor) {
		m.silenceThreshold = n
	}
}

// WithPublisher sets the live sample sink.
func WithPublisher(p Publisher) func(*Monitor) {
	return func(m *Monitor) {
		m.publish = p
	}
}

// Monitor owns the device link for one recording run: handshake, sequential
// read loop, failure detection and backoff reconnection. It is the single
// writer of the session it records into.
type Monitor struct {
	dial       Dialer
	newSession SessionFactory
	publish    Publisher
	logger     *slog.Logger

	handshakeAttempts int
	maxReconnects     int
	backoff           time.Duration
	decodeThreshold   int
	silenceThreshold  int

	state    atomic.Int32
	running  atomic.Bool
	sess     *session.Session
	baseline Baseline
}

// NewMonitor creates a monitor with a discard logger.
func NewMonitor(dial Dialer, newSession SessionFactory, options ...func(*Monitor)) *Monitor {
	m := Monitor{
		dial:              dial,
		newSession:        newSession,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		handshakeAttempts: DefaultHandshakeAttempts,
		maxReconnects:     DefaultMaxReconnects,
		backoff:           DefaultBackoff,
		decodeThreshold:   DecodeErrorsThreshold,
		silenceThreshold:  SilenceThreshold,
	}

	for _, option := range options {
		option(&m)
	}

	return &m
}

// State returns the current supervisor state. Safe for concurrent use.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) transition(to State) error {
	from := m.State()
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			m.state.Store(int32(to))
			m.logger.Debug("state transition",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			return nil
		}
	}
	return fmt.Errorf("illegal state transition %s -> %s", from, to)
}

// Run records one session. It blocks until the context is canceled (graceful
// stop, returns nil), the handshake never succeeds (ErrHandshakeTimeout, no
// session created) or reconnection is exhausted (ErrReconnectExhausted).
// Whenever a session was created, Finalize runs on every exit path.
func (m *Monitor) Run(ctx context.Context) (err error) {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("monitor is already running")
	}
	defer m.running.Store(false)

	if err = m.transition(StateHandshaking); err != nil {
		return err
	}

	link, err := m.connect(ctx)
	if err != nil {
		m.state.Store(int32(StateEnded))
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	sess, err := m.newSession()
	if err != nil {
		_ = link.Close()
		m.state.Store(int32(StateEnded))
		return fmt.Errorf("creating session: %w", err)
	}
	m.sess = sess
	m.baseline.Reset()

	// From here on the session exists and must be finalized on every exit
	// path. Finalize uses its own context: the run context is usually
	// already canceled when we get here.
	defer func() {
		fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if ferr := sess.Finalize(fctx); ferr != nil {
			if err == nil {
				err = ferr
			} else {
				m.logger.Error("finalizing session failed", slog.Any("error", ferr))
			}
		}
		m.state.Store(int32(StateEnded))
	}()

	if err = m.sendReset(link); err != nil {
		// Not fatal: the first reading establishes the baseline as usual.
		m.logger.Warn("device counter reset failed", slog.Any("error", err))
	}

	if err = m.transition(StateActive); err != nil {
		_ = link.Close()
		return err
	}

	m.logger.Info("rowing session started", slog.String("session", sess.StartID()))
	return m.readLoop(ctx, link)
}

// connect opens a fresh link and performs the handshake on it.
func (m *Monitor) connect(ctx context.Context) (Link, error) {
	link, err := m.dial()
	if err != nil {
		return nil, fmt.Errorf("opening link: %w", err)
	}
	if err = m.handshake(ctx, link); err != nil {
		_ = link.Close()
		return nil, err
	}
	return link, nil
}

// handshake sends the connect request repeatedly until the device echoes it
// back, up to the attempt ceiling. The echo may carry a firmware version
// suffix.
func (m *Monitor) handshake(ctx context.Context, link Link) error {
	for attempt := 1; attempt <= m.handshakeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := link.WriteCommand(cmdConnect); err != nil {
			return fmt.Errorf("sending connect request: %w", err)
		}

		resp, err := link.ReadLine()
		switch {
		case err == nil && strings.HasPrefix(resp, string(cmdConnect)):
			if version := resp[1:]; version != "" {
				m.logger.Info("connected to device", slog.String("firmware", version))
			} else {
				m.logger.Info("connected to device")
			}
			return nil

		case err != nil && !errors.Is(err, ErrReadTimeout):
			return fmt.Errorf("reading acknowledgement: %w", err)

		default:
			m.logger.Debug("no acknowledgement, retrying",
				slog.Int("attempt", attempt),
				slog.Int("maxAttempts", m.handshakeAttempts),
				slog.String("response", resp))
		}
	}
	return ErrHandshakeTimeout
}

// sendReset asks the device to zero its counters. Sent once per new session,
// immediately after the first handshake. The device drains pending output
// before acknowledging, so non-reset lines are skipped.
func (m *Monitor) sendReset(link Link) error {
	if err := link.WriteCommand(cmdReset); err != nil {
		return fmt.Errorf("sending reset request: %w", err)
	}
	for {
		resp, err := link.ReadLine()
		if err != nil {
			return fmt.Errorf("waiting for reset acknowledgement: %w", err)
		}
		if strings.HasPrefix(resp, string(cmdReset)) {
			return nil
		}
	}
}

// readLoop is the Active state: one frame per iteration, decode, delta,
// record, flush. Any link failure routes through pauseAndReconnect. A
// canceled context is a user-requested stop and returns nil.
func (m *Monitor) readLoop(ctx context.Context, link Link) error {
	defer func() {
		if link != nil {
			_ = link.Close()
		}
	}()

	var decodeErrs, silent int
	for {
		if ctx.Err() != nil {
			m.logger.Info("session ended by user")
			return nil
		}

		line, err := link.ReadLine()
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				silent++
				if silent < m.silenceThreshold {
					continue
				}
				err = fmt.Errorf("device silent for %d consecutive reads: %w", silent, err)
			}

			m.logger.Warn("link failure", slog.Any("error", err))
			if link, err = m.pauseAndReconnect(ctx, link); err != nil {
				return err
			}
			if link == nil {
				m.logger.Info("session ended by user")
				return nil
			}
			decodeErrs, silent = 0, 0
			continue
		}
		silent = 0

		if line == "" || line[0] != frameMarker {
			if line != "" {
				m.logger.Debug("ignoring non-telemetry line", slog.String("line", line))
			}
			continue
		}

		reading, err := DecodeFrame(line)
		if err != nil {
			decodeErrs++
			m.logger.Warn("dropping malformed frame", slog.Any("error", err))

			if decodeErrs >= m.decodeThreshold {
				m.logger.Warn("too many consecutive decode failures, treating link as broken")
				if link, err = m.pauseAndReconnect(ctx, link); err != nil {
					return err
				}
				if link == nil {
					m.logger.Info("session ended by user")
					return nil
				}
				decodeErrs, silent = 0, 0
			}
			continue
		}
		decodeErrs = 0

		stroke, ok := m.baseline.Advance(reading)
		if !ok {
			continue // reading only established a new baseline
		}
		if stroke.Anomaly {
			m.logger.Warn("negative stroke delta from device, stored flagged",
				slog.Float64("distanceM", stroke.DistanceM),
				slog.Float64("durationSecs", stroke.DurationSecs))
		}

		m.sess.AddStroke(stroke)
		if err := m.sess.MaybeFlush(ctx); err != nil {
			m.logger.Warn("partial flush failed, strokes retained", slog.Any("error", err))
		}
		if m.publish != nil {
			m.publish(stroke, m.sess.LiveStats())
		}
	}
}

// pauseAndReconnect handles a broken link: pause the session (which flushes
// the buffer), close the link and retry open+handshake with backoff up to
// the reconnect ceiling. Returns the new link, (nil, nil) on user stop, or
// ErrReconnectExhausted.
func (m *Monitor) pauseAndReconnect(ctx context.Context, old Link) (Link, error) {
	if err := m.sess.Pause(ctx); err != nil {
		return nil, fmt.Errorf("pausing session: %w", err)
	}
	_ = old.Close()

	if err := m.transition(StatePausedReconnecting); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= m.maxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(m.backoff):
		}

		m.logger.Info("reconnecting",
			slog.Int("attempt", attempt),
			slog.Int("maxAttempts", m.maxReconnects))

		if err := m.transition(StateHandshaking); err != nil {
			return nil, err
		}

		link, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			m.logger.Warn("reconnect attempt failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err))

			if err = m.transition(StatePausedReconnecting); err != nil {
				return nil, err
			}
			continue
		}

		if err = m.sess.Resume(ctx); err != nil {
			_ = link.Close()
			return nil, fmt.Errorf("resuming session: %w", err)
		}
		m.baseline.Reset() // counters restart near zero after a reconnect
		if err = m.transition(StateActive); err != nil {
			_ = link.Close()
			return nil, err
		}

		m.logger.Info("session resumed after reconnection")
		return link, nil
	}

	return nil, ErrReconnectExhausted
}
