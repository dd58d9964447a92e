package app

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi            = 120.0
	fontSize       = 10.0
	tickMarkLength = 5

	datetimeFormat = time.DateTime
)

type annotatorConfig struct {
	FontSize float64
	Borders  BorderConfig
	Palette  palette
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.NewUniform(config.Palette.Axis))

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, data *ChartData) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawTitle(img, data); err != nil {
		return fmt.Errorf("drawing title: %w", err)
	}
	if err := a.drawPowerScale(img, data); err != nil {
		return fmt.Errorf("drawing power scale: %w", err)
	}
	if err := a.drawInfoBar(img, data); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}

	return nil
}

func (a *annotator) drawTitle(img *image.RGBA, data *ChartData) error {
	title := fmt.Sprintf("Rowing session %s - %s",
		data.TimestampStart.Format(datetimeFormat),
		data.TimestampEnd.Format(datetimeFormat))

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	textY := a.config.Borders.Top - fontHeight/2
	pt := freetype.Pt(a.config.Borders.Left, textY)
	if _, err := a.context.DrawString(title, pt); err != nil {
		return fmt.Errorf("drawing title text: %w", err)
	}
	return nil
}

// drawPowerScale labels the left axis with watt values aligned to the
// horizontal grid lines.
func (a *annotator) drawPowerScale(img *image.RGBA, data *ChartData) error {
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	for i := 0; i <= gridLines+1; i++ {
		imgY := a.config.Borders.Top + i*data.Height/(gridLines+1)
		watts := data.MaxPower - i*data.MaxPower/(gridLines+1)

		for x := a.config.Borders.Left - tickMarkLength; x < a.config.Borders.Left; x++ {
			img.Set(x, imgY, a.config.Palette.Axis)
		}

		label := fmt.Sprintf("%dW", watts)
		width := font.MeasureString(a.fontFace, label)
		textY := imgY + fontHeight/2 - metrics.Descent.Round()
		pt := freetype.Pt(a.config.Borders.Left-tickMarkLength-width.Round()-4, textY)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing power label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, data *ChartData) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s strokes", humanize.Comma(int64(len(data.Strokes)))))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("%sm", humanize.CommafWithDigits(data.TotalDistanceM, 1)))
	sb.WriteString("; ")
	sb.WriteString((time.Duration(data.TotalDurationSecs) * time.Second).String())
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("avg %.0fW", data.AvgPowerWatts))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("avg pace %s", formatPace(data.AvgPace500mSecs)))

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	textY := img.Bounds().Max.Y - (a.config.Borders.Bottom-fontHeight)/2 - metrics.Descent.Round()
	pt := freetype.Pt(a.config.Borders.Left, textY)
	if _, err := a.context.DrawString(sb.String(), pt); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

// formatPace renders seconds per 500m as m:ss.
func formatPace(secs float64) string {
	total := int(secs + 0.5)
	return fmt.Sprintf("%d:%02d /500m", total/60, total%60)
}
