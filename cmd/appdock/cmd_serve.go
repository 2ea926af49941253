// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/appdock/cmd/appdock/config"
	"github.com/AleutianAI/appdock/pkg/logging"
	"github.com/AleutianAI/appdock/services/appstore/catalog"
	"github.com/AleutianAI/appdock/services/appstore/datatypes"
	"github.com/AleutianAI/appdock/services/appstore/dispatcher"
	"github.com/AleutianAI/appdock/services/appstore/envgen"
	"github.com/AleutianAI/appdock/services/appstore/httpapi"
	"github.com/AleutianAI/appdock/services/appstore/lifecycle"
	"github.com/AleutianAI/appdock/services/appstore/runner"
	"github.com/AleutianAI/appdock/services/appstore/secrets"
	"github.com/AleutianAI/appdock/services/appstore/store"
	"github.com/AleutianAI/appdock/services/appstore/telemetry"
)

// catalogDebounce coalesces bursts of catalog file events into one
// cache invalidation.
const catalogDebounce = 500 * time.Millisecond

// runServe boots the daemon: logging, telemetry, store, catalog,
// dispatcher, cron schedules, previously running apps, HTTP server.
func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Global

	logger := logging.New(logging.Config{
		Level:   parseLogLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "daemon",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	slogger := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "appdock",
		ServiceVersion: httpapi.ServiceVersion,
		Environment:    os.Getenv("APPDOCK_ENV"),
		TraceExporter:  cfg.Telemetry.Traces,
		MetricExporter: cfg.Telemetry.Metrics,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slogger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter("appdock"))
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	paths := cfg.Layout()
	for _, dir := range []string{paths.CatalogDir, paths.AppsDir, paths.DataDir, paths.BackupsDir, paths.StateDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	storeCfg := store.DefaultConfig(paths.StorePath())
	storeCfg.Logger = slogger
	st, err := store.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	deriver, err := secrets.LoadOrCreate(paths.SeedFile())
	if err != nil {
		return fmt.Errorf("loading secret seed: %w", err)
	}

	resolver := catalog.NewFileResolver(paths, slogger)
	watcher := catalog.NewWatcher(resolver, catalogDebounce, slogger)
	if err := watcher.Start(ctx); err != nil {
		slogger.Warn("catalog watcher unavailable; manifest cache relies on modtimes", "error", err)
	} else {
		defer watcher.Stop()
	}

	generator := envgen.NewGenerator(paths, deriver, resolver, cfg.Server.InternalIP, slogger)

	proc := runner.NewDefaultProcessManager()
	compose, err := runner.NewDefaultComposeExecutor(runner.ComposeConfig{
		Binary:        cfg.Compose.Binary,
		ProjectPrefix: cfg.Compose.ProjectPrefix,
	}, paths, proc, slogger)
	if err != nil {
		return fmt.Errorf("configuring compose executor: %w", err)
	}
	executor := runner.NewExecutor(paths, compose, proc, generator, slogger)

	disp, err := dispatcher.New(runner.NewHandler(executor, slogger), dispatcher.Config{
		Logger:  slogger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("building dispatcher: %w", err)
	}
	disp.Start()
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := disp.Stop(drainCtx); err != nil {
			slogger.Warn("dispatcher drain incomplete", "error", err)
		}
	}()

	if err := registerSchedules(disp, cfg, slogger); err != nil {
		return err
	}

	facade, err := lifecycle.New(lifecycle.Config{
		Store:      st,
		Resolver:   resolver,
		Dispatcher: disp,
		EnvGen:     generator,
		Archives:   executor,
		Logger:     slogger,
		Metrics:    metrics,
		Timeouts: lifecycle.Timeouts{
			Install:   cfg.Timeouts.Duration(cfg.Timeouts.Install),
			Start:     cfg.Timeouts.Duration(cfg.Timeouts.Start),
			Stop:      cfg.Timeouts.Duration(cfg.Timeouts.Stop),
			Update:    cfg.Timeouts.Duration(cfg.Timeouts.Update),
			Uninstall: cfg.Timeouts.Duration(cfg.Timeouts.Uninstall),
			Backup:    cfg.Timeouts.Duration(cfg.Timeouts.Backup),
			Restore:   cfg.Timeouts.Duration(cfg.Timeouts.Restore),
		},
	})
	if err != nil {
		return fmt.Errorf("building lifecycle facade: %w", err)
	}

	if err := facade.StartAllApps(ctx); err != nil {
		// Boot continues; the failed apps sit in stopped for the
		// operator to retry.
		slogger.Warn("not all apps restarted at boot", "error", err)
	}

	gin.SetMode(gin.ReleaseMode)
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics == "prometheus" {
		metricsHandler = telemetry.MetricsHandler()
	}
	router := httpapi.NewRouter(httpapi.NewHandlers(facade, slogger), metricsHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slogger.Info("appdock daemon listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slogger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}

// registerSchedules wires the recurring catalog sync and system-info
// snapshots into the scheduled queue.
func registerSchedules(disp dispatcher.Dispatcher, cfg config.AppDockConfig, logger *slog.Logger) error {
	if cfg.Repo.URL != "" {
		if _, err := disp.Schedule(cfg.Repo.SyncSchedule, func() *datatypes.Event {
			event := datatypes.NewRepoEvent(datatypes.CommandRepoUpdate, cfg.Repo.URL)
			return &event
		}); err != nil {
			return fmt.Errorf("scheduling catalog sync: %w", err)
		}
		logger.Info("catalog sync scheduled", "spec", cfg.Repo.SyncSchedule)
	}

	if _, err := disp.Schedule(cfg.Repo.SystemInfoSchedule, func() *datatypes.Event {
		event := datatypes.NewSystemEvent(datatypes.CommandSystemInfo)
		return &event
	}); err != nil {
		return fmt.Errorf("scheduling system snapshots: %w", err)
	}
	return nil
}

func parseLogLevel(level string) logging.Level {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
