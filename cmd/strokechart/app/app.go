package app

import (
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fluidrower/rowmon/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.New(config.DBPath)
	defer store.Close()

	return renderSession(ctx, store, config, logger)
}

func renderSession(ctx context.Context, store *storage.Store, config *Config, logger *slog.Logger) error {
	sess, err := store.Session(ctx, config.SessionID)
	if err != nil {
		return fmt.Errorf("loading session %d: %w", config.SessionID, err)
	}

	strokes, err := store.Strokes(ctx, config.SessionID)
	if err != nil {
		return fmt.Errorf("loading strokes: %w", err)
	}
	if len(strokes) == 0 {
		return fmt.Errorf("session %d has no strokes", config.SessionID)
	}

	data := NewChartData(strokes)

	if config.Verbose {
		logger.Info("loaded session",
			slog.Group("session",
				slog.Int64("id", sess.ID),
				slog.String("device", sess.DeviceType),
				slog.String("started", sess.StartTime.Local().Format(time.DateTime)),
				slog.String("strokes", humanize.Comma(int64(len(strokes)))),
				slog.String("distance", fmt.Sprintf("%sm", humanize.CommafWithDigits(data.TotalDistanceM, 1))),
			))
	}

	renderer := NewChartRenderer(RenderConfig{
		Theme:       config.Theme,
		Annotations: !config.NoAnnotations,
	})

	logger.Info("rendering chart",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("width", data.Width),
			slog.Int("height", data.Height),
		))

	img, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering chart: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	switch config.Format {
	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})

	default:
		err = png.Encode(out, img)
	}
	return err
}
