package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/stateaudit/pkg/archive"
	"github.com/platinummonkey/stateaudit/pkg/audit"
	"github.com/platinummonkey/stateaudit/pkg/config"
	"github.com/platinummonkey/stateaudit/pkg/httputil"
	"github.com/platinummonkey/stateaudit/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// newAPIRouter serves the audit routes
func newAPIRouter(cfg config.ServerConfig, adapter audit.Adapter, metrics *observability.Metrics, logger logrus.FieldLogger) http.Handler {
	router := mux.NewRouter()
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	// inside the router so the matched route template is visible
	actor := audit.NewMiddleware(audit.WithActorHeaders(cfg.UsernameHeader, cfg.UserIDHeader))
	router.Use(actor.Handler)
	audit.NewHandlers(adapter, logger).RegisterRoutes(router)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
	)(router)

	return otelhttp.NewHandler(handler, "stateaudit")
}

// newHealthRouter serves the probes and, when a gatherer is given, /metrics
func newHealthRouter(health *observability.HealthChecker, gatherer prometheus.Gatherer) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle("/metrics", observability.MetricsHandler(gatherer)).Methods(http.MethodGet)
	}
	return router
}

// scheduleArchive registers the archive job on c
func scheduleArchive(c *cron.Cron, schedule string, archiver *archive.Archiver, logger logrus.FieldLogger) error {
	_, err := c.AddFunc(schedule, func() {
		defer observability.RecoverPanic(logger, "archive job")

		ctx := context.Background()
		result, err := archiver.ArchivePreviousDay(ctx)
		if err != nil {
			logger.WithError(err).Error("Scheduled archive failed")
			return
		}
		logger.WithFields(logrus.Fields{
			"key":     result.Key,
			"records": result.Records,
		}).Info("Scheduled archive complete")
	})
	return err
}
