package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/recreport/recreport/internal/cli/recreport"
	"github.com/recreport/recreport/internal/config"
	"github.com/recreport/recreport/internal/observability"
	"github.com/recreport/recreport/internal/reportjob"
	"github.com/recreport/recreport/internal/schedule"
	"github.com/recreport/recreport/internal/storage"
)

func main() {
	cfg, err := config.LoadFromEnv("recreport-scheduler")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobCfg, err := reportjob.ConfigFromApp(cfg)
	if err != nil {
		logger.Error("invalid report configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var store storage.ObjectStore
	if cfg.Report.Upload || cfg.Warehouse.Driver == config.DriverDuckDB {
		s3, err := recreport.OpenObjectStore(ctx, cfg)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		store = s3
	}
	opener, err := reportjob.WarehouseOpener(cfg, store)
	if err != nil {
		logger.Error("failed to configure warehouse", slog.Any("error", err))
		os.Exit(1)
	}

	svc := &reportjob.Service{
		Open:        opener,
		ObjectStore: store,
		Config:      jobCfg,
		Logger:      logger,
	}
	scheduler := &schedule.Scheduler{
		Expression: cfg.Schedule.Expression,
		RunOnStart: cfg.Schedule.RunOnStart,
		Location:   cfg.Report.Location,
		Logger:     logger,
		Job: func(ctx context.Context) error {
			_, err := svc.RunOnce(ctx)
			return err
		},
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      observability.Handler(logger),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	go func() {
		logger.Info("metrics listener started", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", slog.Any("error", err))
			stop()
		}
	}()

	if err := scheduler.Run(ctx); err != nil {
		logger.Error("scheduler failed", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics listener shutdown failed", slog.Any("error", err))
	}
	logger.Info("scheduler stopped")
}
