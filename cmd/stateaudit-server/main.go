package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/stateaudit/pkg/archive"
	"github.com/platinummonkey/stateaudit/pkg/config"
	"github.com/platinummonkey/stateaudit/pkg/observability"
	"github.com/platinummonkey/stateaudit/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// version is set at build time
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server stopped with an error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelCfg := cfg.Observability.OTel()
	if otelCfg.ServiceVersion == "" {
		otelCfg.ServiceVersion = version
	}
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return err
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
		otelM    *observability.OTelMetrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}
	if providers != nil {
		if otelM, err = observability.NewOTelMetrics(); err != nil {
			return err
		}
	}

	backend, err := storage.Open(ctx, cfg.Storage,
		storage.WithLogger(logger),
		storage.WithInstrumentation(metrics, otelM),
	)
	if err != nil {
		return err
	}

	health := observability.NewHealthChecker(version)
	backend.AddHealthChecks(health)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      newAPIRouter(cfg.Server, backend.Adapter, metrics, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	var gatherer prometheus.Gatherer
	if registry != nil {
		gatherer = registry
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: newHealthRouter(health, gatherer),
	}

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("backend", func(context.Context) error { return backend.Close() })
	shutdown.Register("otel", func(ctx context.Context) error { return observability.ShutdownOTel(ctx, providers, logger) })
	shutdown.Register("health server", healthServer.Shutdown)

	if cfg.Archive.Enabled {
		client, err := archive.NewS3Client(ctx, cfg.Archive.S3)
		if err != nil {
			return err
		}
		archiver, err := archive.NewArchiver(backend.Adapter, client, archive.Config{
			Bucket:   cfg.Archive.S3.Bucket,
			Prefix:   cfg.Archive.Prefix,
			Compress: cfg.Archive.Compress,
		},
			archive.WithLogger(logger.WithField("component", "archive")),
			archive.WithMetrics(metrics),
			archive.WithOTelMetrics(otelM),
		)
		if err != nil {
			return err
		}

		scheduler := cron.New()
		if err := scheduleArchive(scheduler, cfg.Archive.Schedule, archiver, logger); err != nil {
			return err
		}
		scheduler.Start()
		shutdown.Register("archive scheduler", func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		logger.WithField("schedule", cfg.Archive.Schedule).Info("Archive job scheduled")
	}

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		go func(srv *http.Server) {
			defer observability.RecoverPanic(logger, "http server")
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	select {
	case err := <-errCh:
		stop()
		if shutdownErr := shutdown.Shutdown(); shutdownErr != nil {
			logger.WithError(shutdownErr).Warn("Shutdown after server failure was not clean")
		}
		return err
	case <-ctx.Done():
		return shutdown.WaitForShutdown(ctx)
	}
}
