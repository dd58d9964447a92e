package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fluidrower/rowmon/internal/api"
	"github.com/fluidrower/rowmon/internal/rower"
	"github.com/fluidrower/rowmon/internal/session"
	"github.com/fluidrower/rowmon/internal/storage"
)

const dbFileName = "rowing.sqlite"

// Run wires the store, the monitor and the optional live API together and
// records one rowing session. It returns when the context is canceled or the
// monitor gives up.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	dial := rower.SerialDialer(rower.SerialConfig{
		Port:        config.Serial.Port,
		BaudRate:    config.Serial.BaudRate,
		ReadTimeout: time.Duration(config.Serial.ReadTimeout),
	})
	return run(ctx, config, logger, dial)
}

func run(ctx context.Context, config *Config, logger *slog.Logger, dial rower.Dialer) error {
	store, err := createStorage(&config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer store.Close()

	// The API stop endpoint and the OS signal share one cancellation path,
	// so both route through the monitor's graceful shutdown.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	broadcaster := api.NewBroadcaster()

	// Written by the monitor goroutine's session factory, read concurrently
	// by API handlers.
	var sess atomic.Pointer[session.Session]
	newSession := func() (*session.Session, error) {
		startedAt := time.Now()
		id, err := store.CreateSession(ctx, startedAt, "fluid-rower", config)
		if err != nil {
			return nil, err
		}

		s := session.New(id, startedAt, store,
			session.WithLogger(logger),
			session.WithFlushInterval(time.Duration(config.Reconnect.FlushInterval)),
			session.WithFlushAfterStrokes(config.Reconnect.FlushAfterStrokes))
		sess.Store(s)
		return s, nil
	}

	monitor := rower.NewMonitor(dial, newSession,
		rower.WithLogger(logger),
		rower.WithHandshakeAttempts(config.Reconnect.HandshakeAttempts),
		rower.WithMaxReconnects(config.Reconnect.MaxAttempts),
		rower.WithBackoff(time.Duration(config.Reconnect.Backoff)),
		rower.WithPublisher(func(stroke session.Stroke, stats session.Stats) {
			broadcaster.Publish(api.Sample{Stroke: stroke, Stats: stats})
		}))

	if config.API.Enabled {
		liveStats := func() session.Stats {
			if s := sess.Load(); s != nil {
				return s.LiveStats()
			}
			return session.Stats{}
		}

		server := api.New(config.API.ListenAddr, liveStats, store, broadcaster, stop, logger)
		go func() {
			logger.Info("live API listening", slog.String("addr", config.API.ListenAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("API server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	err = monitor.Run(ctx)

	if s := sess.Load(); s != nil {
		logSummary(logger, s)
	}
	return err
}

func createStorage(config *StorageConfig) (*storage.Store, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = DefaultDataDirectory
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory '%s': %w", dataDir, err)
	}

	return storage.New(filepath.Join(dataDir, dbFileName)), nil
}

func logSummary(logger *slog.Logger, sess *session.Session) {
	stats := sess.LiveStats()
	if stats.NumStrokes == 0 {
		logger.Info("no strokes recorded in session", slog.String("session", sess.StartID()))
		return
	}

	logger.Info("session summary",
		slog.String("session", sess.StartID()),
		slog.Group("totals",
			slog.String("strokes", humanize.Comma(int64(stats.NumStrokes))),
			slog.String("distance", fmt.Sprintf("%sm", humanize.Commaf(stats.TotalDistanceM))),
			slog.String("duration", (time.Duration(stats.TotalDurationSecs)*time.Second).String()),
			slog.Int("calories", stats.TotalCalories),
		),
		slog.Group("power",
			slog.String("avg", fmt.Sprintf("%0.0fW", stats.AvgPowerWatts)),
			slog.Int("max", stats.MaxPowerWatts),
		),
		slog.Group("pace",
			slog.String("avg500m", fmt.Sprintf("%0.1fs", stats.AvgPace500mSecs)),
			slog.String("avgSPM", fmt.Sprintf("%0.1f", stats.AvgStrokesPerMin)),
		),
		slog.String("pauseTime", fmt.Sprintf("%0.1fs", stats.TotalPauseSecs)))
}
