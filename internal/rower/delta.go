package rower

import (
	"github.com/fluidrower/rowmon/internal/session"
)

// Baseline converts cumulative device readings into per-stroke deltas.
//
// Device counters increase monotonically only while the physical connection
// is continuous; across a reconnect the rower resets them to near zero, so a
// delta against the pre-disconnect baseline would be a large negative value.
// The baseline is therefore an explicit optional: it is invalidated with
// Reset on every reconnect, and the first reading afterwards only
// re-establishes it without emitting a stroke.
type Baseline struct {
	prev *Reading
}

// Reset invalidates the baseline. Called at the Handshaking→Active
// transition following a disconnect.
func (b *Baseline) Reset() {
	b.prev = nil
}

// Advance consumes the next cumulative reading. It returns false when the
// reading only establishes a new baseline (first reading of the session or
// first after a reconnect). Otherwise it returns the stroke delta, with the
// instantaneous fields copied from the newer reading.
//
// A negative delta is a device anomaly: the stroke is flagged, never
// clamped, and it is up to the caller to surface it.
func (b *Baseline) Advance(current Reading) (session.Stroke, bool) {
	prev := b.prev
	b.prev = &current

	if prev == nil {
		return session.Stroke{}, false
	}

	st := session.Stroke{
		DistanceM:       float64(current.DistanceM - prev.DistanceM),
		DurationSecs:    float64(current.DurationSecs - prev.DurationSecs),
		Pace500mSecs:    current.Pace500mSecs,
		StrokesPerMin:   current.StrokesPerMin,
		PowerWatts:      current.PowerWatts,
		CaloriesPerHour: current.CaloriesPerHour,
		Resistance:      current.Resistance,
	}
	st.Anomaly = st.DistanceM < 0 || st.DurationSecs < 0
	return st, true
}
