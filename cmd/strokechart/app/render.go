package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

const (
	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 60
	defaultBottomBorder = 50
	defaultRightBorder  = 40

	gridLines         = 4
	anomalyMarkerSize = 3
)

// BorderConfig defines the sizes of white space around the plot area
type BorderConfig struct {
	Top    int // Space for the title
	Left   int // Space for the power scale
	Bottom int // Space for the information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for chart rendering
type RenderConfig struct {
	FontSize    float64
	Theme       ColorTheme
	Borders     BorderConfig
	Annotations bool
}

// ChartRenderer draws a session's stroke series as a line chart
type ChartRenderer struct {
	config  RenderConfig
	palette palette
}

// NewChartRenderer creates a renderer with the given configuration,
// applying defaults for zero values.
func NewChartRenderer(config RenderConfig) *ChartRenderer {
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.Borders.Top == 0 {
		config.Borders.Top = defaultTopBorder
	}
	if config.Borders.Left == 0 {
		config.Borders.Left = defaultLeftBorder
	}
	if config.Borders.Bottom == 0 {
		config.Borders.Bottom = defaultBottomBorder
	}
	if config.Borders.Right == 0 {
		config.Borders.Right = defaultRightBorder
	}

	return &ChartRenderer{
		config:  config,
		palette: themePalette(config.Theme),
	}
}

// Render creates an image of the stroke series with annotations
func (r *ChartRenderer) Render(data *ChartData) (*image.RGBA, error) {
	fullWidth := data.Width + r.config.Borders.Left + r.config.Borders.Right
	fullHeight := data.Height + r.config.Borders.Top + r.config.Borders.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))

	draw.Draw(img, img.Bounds(), image.NewUniform(r.palette.Background), image.Point{}, draw.Src)

	plotArea := image.Rect(
		r.config.Borders.Left,
		r.config.Borders.Top,
		r.config.Borders.Left+data.Width,
		r.config.Borders.Top+data.Height,
	)

	r.drawGrid(img, plotArea)
	r.drawSeries(img, plotArea, data)

	if r.config.Annotations {
		ann, err := newAnnotator(annotatorConfig{
			FontSize: r.config.FontSize,
			Borders:  r.config.Borders,
			Palette:  r.palette,
		})
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		if err = ann.annotate(img, data); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	return img, nil
}

// drawGrid draws horizontal guide lines and the plot border.
func (r *ChartRenderer) drawGrid(img *image.RGBA, area image.Rectangle) {
	for i := 1; i <= gridLines; i++ {
		y := area.Min.Y + i*area.Dy()/(gridLines+1)
		drawLine(img, area.Min.X, y, area.Max.X-1, y, r.palette.Grid)
	}

	drawLine(img, area.Min.X, area.Min.Y, area.Min.X, area.Max.Y-1, r.palette.Axis)
	drawLine(img, area.Min.X, area.Max.Y-1, area.Max.X-1, area.Max.Y-1, r.palette.Axis)
}

// drawSeries draws the power polyline, the stroke rate polyline and
// anomaly markers on top.
func (r *ChartRenderer) drawSeries(img *image.RGBA, area image.Rectangle, data *ChartData) {
	for i := 1; i < len(data.Strokes); i++ {
		prev, cur := data.Strokes[i-1], data.Strokes[i]

		x0 := area.Min.X + data.x(i-1)
		x1 := area.Min.X + data.x(i)

		y0 := area.Min.Y + data.y(prev.StrokesPerMin, data.MaxSPM)
		y1 := area.Min.Y + data.y(cur.StrokesPerMin, data.MaxSPM)
		drawLine(img, x0, y0, x1, y1, r.palette.StrokeRate)

		y0 = area.Min.Y + data.y(prev.PowerWatts, data.MaxPower)
		y1 = area.Min.Y + data.y(cur.PowerWatts, data.MaxPower)

		var normalized float64
		if data.MaxPower > 0 {
			normalized = float64(cur.PowerWatts) / float64(data.MaxPower)
		}
		drawLine(img, x0, y0, x1, y1, r.palette.PowerColor(normalized))
	}

	for i, st := range data.Strokes {
		if !st.Anomaly {
			continue
		}
		x := area.Min.X + data.x(i)
		y := area.Min.Y + data.y(st.PowerWatts, data.MaxPower)
		drawMarker(img, x, y, anomalyMarkerSize, r.palette.Anomaly)
	}
}

// drawLine draws a line between two points using the Bresenham algorithm.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)

	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}

	err := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// drawMarker draws a filled square centered on the given point.
func drawMarker(img *image.RGBA, cx, cy, size int, c color.Color) {
	for y := cy - size; y <= cy+size; y++ {
		for x := cx - size; x <= cx+size; x++ {
			img.Set(x, y, c)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
