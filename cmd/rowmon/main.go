package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluidrower/rowmon/cmd/rowmon/app"
	"github.com/fluidrower/rowmon/internal/rower"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var configPath string
	flag.StringVar(&configPath, "c", "", "Path to the configuration file")
	flag.Parse()

	if configPath == "" {
		logger.Error("no configuration file provided")
		os.Exit(1)
	}

	config, err := app.LoadConfig(configPath)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
		os.Exit(1)
	}

	logLevel.Set(config.LogLevel())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, logger); err != nil {
		switch {
		case errors.Is(err, rower.ErrHandshakeTimeout):
			logger.Error("could not connect to device")
		case errors.Is(err, rower.ErrReconnectExhausted):
			logger.Error("device connection lost and could not be recovered; flushed data is preserved")
		default:
			logger.Error(err.Error())
		}

		cancel()
		os.Exit(1)
	}
}
