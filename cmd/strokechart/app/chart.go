package app

import (
	"time"

	"github.com/fluidrower/rowmon/internal/session"
)

const (
	pixelsPerStroke = 4
	minPlotWidth    = 640
	maxPlotWidth    = 2400
	plotHeight      = 400
)

// ChartData holds one session's stroke series and the value bounds the
// renderer scales against.
type ChartData struct {
	Strokes []session.Stroke

	Width, Height int

	MaxPower int
	MaxSPM   int
	MaxPace  int

	TotalDistanceM    float64
	TotalDurationSecs float64
	AvgPowerWatts     float64
	AvgPace500mSecs   float64

	TimestampStart, TimestampEnd time.Time
}

// NewChartData computes the series bounds for the given strokes.
func NewChartData(strokes []session.Stroke) *ChartData {
	c := ChartData{
		Strokes: strokes,
		Height:  plotHeight,
	}

	c.Width = min(max(len(strokes)*pixelsPerStroke, minPlotWidth), maxPlotWidth)

	var sumPower, sumPace int
	for i, st := range strokes {
		c.MaxPower = max(c.MaxPower, st.PowerWatts)
		c.MaxSPM = max(c.MaxSPM, st.StrokesPerMin)
		c.MaxPace = max(c.MaxPace, st.Pace500mSecs)

		c.TotalDistanceM += st.DistanceM
		c.TotalDurationSecs += st.DurationSecs
		sumPower += st.PowerWatts
		sumPace += st.Pace500mSecs

		if i == 0 || st.RecordedAt.Before(c.TimestampStart) {
			c.TimestampStart = st.RecordedAt
		}
		if st.RecordedAt.After(c.TimestampEnd) {
			c.TimestampEnd = st.RecordedAt
		}
	}

	if n := len(strokes); n > 0 {
		c.AvgPowerWatts = float64(sumPower) / float64(n)
		c.AvgPace500mSecs = float64(sumPace) / float64(n)
	}
	return &c
}

// x maps a stroke index to a plot-area x coordinate.
func (c *ChartData) x(i int) int {
	if len(c.Strokes) < 2 {
		return 0
	}
	return i * (c.Width - 1) / (len(c.Strokes) - 1)
}

// y maps a value to a plot-area y coordinate given the series maximum.
// Values grow upwards, y grows downwards.
func (c *ChartData) y(value, seriesMax int) int {
	if seriesMax == 0 {
		return c.Height - 1
	}
	return c.Height - 1 - value*(c.Height-1)/seriesMax
}
