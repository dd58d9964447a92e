package rower

import (
	"fmt"
)

// FrameLength is the fixed width of a telemetry frame in ASCII characters.
const FrameLength = 29

// Reading holds the cumulative counters and instantaneous gauges reported by
// the rower in a single telemetry frame. Duration and distance are totals
// since the device-side counter reset; the remaining fields describe the
// current stroke only.
type Reading struct {
	DeviceType      string // two-character device code, e.g. "A5"
	DurationSecs    int    // cumulative rowing time in seconds
	DistanceM       int    // cumulative distance in meters
	Pace500mSecs    int    // current 500m split in seconds
	StrokesPerMin   int    // current stroke rate
	PowerWatts      int    // current power output
	CaloriesPerHour int    // current calorie burn rate
	Resistance      int    // current resistance level
}

// ProtocolError is returned when a frame cannot be decoded. The whole frame
// is dropped; a single malformed frame never ends the session.
type ProtocolError struct {
	Frame  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed frame %q: %s", e.Frame, e.Reason)
}

// DecodeFrame parses one fixed-width telemetry frame.
//
// Frame layout (character offsets, half-open ranges):
//
//	[0,2)   device type code
//	[2,7)   cumulative duration, seconds
//	[7,12)  cumulative distance, meters
//	[12,13) unused
//	[13,15) 500m pace, minutes
//	[15,17) 500m pace, seconds
//	[17,20) strokes per minute
//	[20,23) power, watts
//	[23,27) calories per hour
//	[27,29) resistance level
//
// All numeric fields are zero-padded decimal digits. A frame of the wrong
// length or with a non-digit character in a numeric field fails with
// *ProtocolError.
func DecodeFrame(frame string) (Reading, error) {
	if len(frame) != FrameLength {
		return Reading{}, &ProtocolError{Frame: frame, Reason: fmt.Sprintf("length %d, want %d", len(frame), FrameLength)}
	}

	var r Reading
	r.DeviceType = frame[0:2]

	var paceMin, paceSec int
	for _, f := range []struct {
		name   string
		lo, hi int
		dst    *int
	}{
		{"duration", 2, 7, &r.DurationSecs},
		{"distance", 7, 12, &r.DistanceM},
		{"pace minutes", 13, 15, &paceMin},
		{"pace seconds", 15, 17, &paceSec},
		{"strokes per minute", 17, 20, &r.StrokesPerMin},
		{"power", 20, 23, &r.PowerWatts},
		{"calories per hour", 23, 27, &r.CaloriesPerHour},
		{"resistance", 27, 29, &r.Resistance},
	} {
		v, err := parseDigits(frame[f.lo:f.hi])
		if err != nil {
			return Reading{}, &ProtocolError{Frame: frame, Reason: fmt.Sprintf("field %s: %s", f.name, err)}
		}
		*f.dst = v
	}

	r.Pace500mSecs = paceMin*60 + paceSec
	return r, nil
}

// parseDigits converts a zero-padded decimal field. Unlike strconv.Atoi it
// rejects signs, spaces and any other non-digit character.
func parseDigits(s string) (int, error) {
	var n int
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-digit character %q", c)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
