package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"meteo-ingest/internal/config"
	"meteo-ingest/internal/db"
	"meteo-ingest/internal/httpapi"
	"meteo-ingest/internal/migrate"
	"meteo-ingest/internal/modules/wind/normalize"
	"meteo-ingest/internal/modules/wind/registry"
	"meteo-ingest/internal/modules/wind/repository"
	"meteo-ingest/internal/modules/wind/service"
	"meteo-ingest/internal/modules/wind/source"
	"meteo-ingest/internal/mqtt"
	"meteo-ingest/internal/scheduler"
)

// Run opens the store, applies migrations and ingests. With once set, or no
// schedule configured, it performs a single pass and returns. Otherwise it
// serves the status API and runs on the schedule until ctx is done.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, once bool) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.Driver,
		"sqlitePath", cfg.Path,
		"dbMaxOpenConns", cfg.MaxOpenConns,
		"sourceBaseURL", cfg.SourceBaseURL,
		"sourceTimeout", cfg.SourceTimeout,
		"defaultTimezone", cfg.DefaultTimezone,
		"schedule", cfg.Schedule,
		"mqttBroker", cfg.MQTTBroker,
	)

	handle, err := openMigrated(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := handle.Close(); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	deps := service.Deps{
		Store:           repository.NewRepository(handle),
		Source:          source.NewClient(source.OptionsFromConfig(cfg), logger),
		Normalizer:      normalize.New(normalize.OptionsFromConfig(cfg)),
		Reconnector:     handle,
		Logger:          logger,
		DefaultTimezone: cfg.DefaultTimezone,
	}

	if cfg.MQTTBroker != "" {
		publisher := mqtt.NewPublisher(cfg, logger)
		// Short timeout so a missing broker does not block ingestion.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err := publisher.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
		defer publisher.Disconnect()
		deps.Reporter = publisher
	}

	svc := service.NewService(deps)

	if once || cfg.Schedule == "" {
		_, err := svc.RunOnce(ctx)
		return err
	}
	return serve(ctx, cfg, logger, handle, svc)
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, handle *db.Handle, svc *service.Service) error {
	if _, err := scheduler.Parse(cfg.Schedule); err != nil {
		return err
	}

	mux := httpapi.NewMux(repository.NewRepository(handle), svc)
	srv := httpapi.NewServer(cfg, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = scheduler.Run(schedCtx, cfg.Schedule, logger, func(ctx context.Context) {
			if _, err := svc.RunOnce(ctx); err != nil {
				logger.Error("ingestion run failed", "error", err)
			}
		})
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	schedCancel()
	<-schedDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if serveErr != nil {
		return serveErr
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func openMigrated(ctx context.Context, cfg config.Config, logger *slog.Logger) (*db.Handle, error) {
	handle, err := db.OpenHandle(cfg, logger)
	if err != nil {
		return nil, err
	}
	pool, err := handle.Pool()
	if err == nil {
		_, err = migrate.Run(ctx, pool, logger)
	}
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready")
	return handle, nil
}

// Migrate applies pending schema migrations.
func Migrate(ctx context.Context, cfg config.Config, logger *slog.Logger) (int, error) {
	handle, err := db.OpenHandle(cfg, logger)
	if err != nil {
		return 0, err
	}
	defer func() { _ = handle.Close() }()

	pool, err := handle.Pool()
	if err != nil {
		return 0, err
	}
	return migrate.Run(ctx, pool, logger)
}

// ImportStations migrates the store and upserts the stations listed in path.
func ImportStations(ctx context.Context, cfg config.Config, logger *slog.Logger, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	handle, err := openMigrated(ctx, cfg, logger)
	if err != nil {
		return 0, err
	}
	defer func() { _ = handle.Close() }()

	importer := registry.NewImporter(repository.NewRepository(handle), logger)
	return importer.Import(ctx, f)
}
