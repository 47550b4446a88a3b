// Package observability provides logrus logging, Prometheus metrics,
// OpenTelemetry setup and health checks for the stateaudit binaries.
//
// # Logging
//
//	logger := observability.NewLogger("info", "json", os.Stderr)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Info("archive uploaded")
//
// FromContext attaches trace_id and span_id when a span is recording.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddPinger("database", true, db)
//	checker.AddRedis(redisClient)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
