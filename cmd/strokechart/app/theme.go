package app

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	ClassicTheme   ColorTheme = "classic"
	GrayscaleTheme ColorTheme = "grayscale"
	ThermalTheme   ColorTheme = "thermal"
)

// ColorTheme selects the palette used for the chart series.
type ColorTheme string

var validThemes = map[ColorTheme]struct{}{
	ClassicTheme:   {},
	GrayscaleTheme: {},
	ThermalTheme:   {},
}

// palette holds the concrete colors a theme renders with. PowerColor
// may vary with the normalized power value; the other series use a
// single color each.
type palette struct {
	Background color.Color
	Grid       color.Color
	Axis       color.Color
	StrokeRate color.Color
	Anomaly    color.Color

	PowerColor func(normalized float64) color.Color
}

func themePalette(theme ColorTheme) palette {
	switch theme {
	case GrayscaleTheme:
		return palette{
			Background: color.White,
			Grid:       color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff},
			Axis:       color.Black,
			StrokeRate: color.RGBA{R: 0x90, G: 0x90, B: 0x90, A: 0xff},
			Anomaly:    color.Black,
			PowerColor: func(float64) color.Color {
				return color.RGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xff}
			},
		}

	case ThermalTheme:
		return palette{
			Background: color.Black,
			Grid:       color.RGBA{R: 0x28, G: 0x28, B: 0x28, A: 0xff},
			Axis:       color.White,
			StrokeRate: color.RGBA{R: 0x00, G: 0xb0, B: 0xb0, A: 0xff},
			Anomaly:    color.White,
			PowerColor: thermalColor,
		}

	default: // ClassicTheme
		return palette{
			Background: color.White,
			Grid:       color.RGBA{R: 0xe8, G: 0xe8, B: 0xe8, A: 0xff},
			Axis:       color.Black,
			StrokeRate: color.RGBA{R: 0x2e, G: 0x7d, B: 0x32, A: 0xff},
			Anomaly:    color.RGBA{R: 0xd0, G: 0x00, B: 0x00, A: 0xff},
			PowerColor: func(float64) color.Color {
				return color.RGBA{R: 0x15, G: 0x65, B: 0xc0, A: 0xff}
			},
		}
	}
}

const (
	thermalHueStart = 236.0
	thermalHueEnd   = 0.0
)

// thermalColor maps normalized power [0,1] onto a blue-to-red hue ramp.
func thermalColor(normalized float64) color.Color {
	normalized = math.Min(math.Max(normalized, 0), 1)
	hue := thermalHueStart - normalized*(thermalHueStart-thermalHueEnd)
	return colorful.Hsv(hue, 1, 0.90)
}
