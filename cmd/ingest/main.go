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
	_ "time/tzdata"

	"meteo-ingest/internal/app"
	"meteo-ingest/internal/config"
	"meteo-ingest/internal/logging"
)

const appName = "meteo-ingest"

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	once := flag.Bool("once", false, "run a single ingestion pass and exit, ignoring SCHEDULE")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"once", *once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger, *once); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "error", err)
		stop()
		os.Exit(1)
	}

	slog.Info("shutting down")
}
