package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the tracer and meter name used across stateaudit
const InstrumentationName = "github.com/platinummonkey/stateaudit"

// OTelMetrics holds OpenTelemetry metric instruments
type OTelMetrics struct {
	adapterOperations metric.Int64Counter
	adapterDuration   metric.Float64Histogram
	recordsSent       metric.Int64Counter
	payloadBytes      metric.Int64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsFromMeter(otel.Meter(InstrumentationName))
}

// NewOTelMetricsFromMeter creates the instruments on the given meter
func NewOTelMetricsFromMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.adapterOperations, err = meter.Int64Counter(
		"stateaudit.adapter.operations",
		metric.WithDescription("Total number of audit adapter operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter operations counter: %w", err)
	}

	m.adapterDuration, err = meter.Float64Histogram(
		"stateaudit.adapter.duration",
		metric.WithDescription("Audit adapter operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter duration histogram: %w", err)
	}

	m.recordsSent, err = meter.Int64Counter(
		"stateaudit.records.sent",
		metric.WithDescription("Total number of audit records persisted"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create records sent counter: %w", err)
	}

	m.payloadBytes, err = meter.Int64Histogram(
		"stateaudit.archive.bytes",
		metric.WithDescription("Size of uploaded archive objects"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive bytes histogram: %w", err)
	}

	return m, nil
}

// RecordAdapterOperation records one adapter call
func (m *OTelMetrics) RecordAdapterOperation(ctx context.Context, operation, backend string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("audit.operation", operation),
		attribute.String("audit.backend", backend),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error", "true"))
	} else {
		attrs = append(attrs, attribute.String("error", "false"))
	}

	m.adapterOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.adapterDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSent counts a persisted record
func (m *OTelMetrics) RecordSent(ctx context.Context, backend, action string) {
	m.recordsSent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("audit.backend", backend),
		attribute.String("audit.action", action),
	))
}

// RecordArchiveUpload records the size of an uploaded archive object
func (m *OTelMetrics) RecordArchiveUpload(ctx context.Context, bytes int64) {
	if bytes > 0 {
		m.payloadBytes.Record(ctx, bytes)
	}
}
