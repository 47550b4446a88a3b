package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Adapter metrics
	AdapterOperationsTotal   *prometheus.CounterVec
	AdapterOperationDuration *prometheus.HistogramVec
	AdapterErrorsTotal       *prometheus.CounterVec
	RecordsSentTotal         *prometheus.CounterVec

	// Archive metrics
	ArchiveRunsTotal     *prometheus.CounterVec
	ArchivedRecordsTotal prometheus.Counter
	ArchiveLastSuccess   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stateaudit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stateaudit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AdapterOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stateaudit_adapter_operations_total",
				Help: "Total number of audit adapter operations",
			},
			[]string{"operation", "backend", "status"},
		),
		AdapterOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stateaudit_adapter_operation_duration_seconds",
				Help:    "Audit adapter operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		AdapterErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stateaudit_adapter_errors_total",
				Help: "Total number of audit adapter errors",
			},
			[]string{"operation", "backend", "error_type"},
		),
		RecordsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stateaudit_records_sent_total",
				Help: "Total number of audit records persisted",
			},
			[]string{"backend", "action"},
		),

		ArchiveRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stateaudit_archive_runs_total",
				Help: "Total number of archive runs",
			},
			[]string{"status"},
		),
		ArchivedRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stateaudit_archived_records_total",
				Help: "Total number of records uploaded to the archive",
			},
		),
		ArchiveLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stateaudit_archive_last_success_timestamp_seconds",
				Help: "Unix time of the last successful archive run",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AdapterOperationsTotal,
		m.AdapterOperationDuration,
		m.AdapterErrorsTotal,
		m.RecordsSentTotal,
		m.ArchiveRunsTotal,
		m.ArchivedRecordsTotal,
		m.ArchiveLastSuccess,
	)
	return m
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel uses the mux route template to keep label cardinality bounded
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
