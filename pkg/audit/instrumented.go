package audit

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/stateaudit/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedAdapter records metrics and a span for every call to the
// wrapped adapter
type InstrumentedAdapter struct {
	next    Adapter
	backend string
	metrics *observability.Metrics
	otel    *observability.OTelMetrics
	tracer  trace.Tracer
}

// InstrumentOption configures an InstrumentedAdapter
type InstrumentOption func(*InstrumentedAdapter)

// WithPrometheus records into the given Prometheus metrics
func WithPrometheus(m *observability.Metrics) InstrumentOption {
	return func(a *InstrumentedAdapter) { a.metrics = m }
}

// WithOTelMetrics records into the given OpenTelemetry instruments
func WithOTelMetrics(m *observability.OTelMetrics) InstrumentOption {
	return func(a *InstrumentedAdapter) { a.otel = m }
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(t trace.Tracer) InstrumentOption {
	return func(a *InstrumentedAdapter) { a.tracer = t }
}

// NewInstrumentedAdapter wraps next. backend labels every measurement.
func NewInstrumentedAdapter(next Adapter, backend string, opts ...InstrumentOption) *InstrumentedAdapter {
	a := &InstrumentedAdapter{
		next:    next,
		backend: backend,
		tracer:  otel.Tracer(observability.InstrumentationName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// errorType buckets an error for the error_type label
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSourceNotFound):
		return "source_not_found"
	case errors.Is(err, ErrMissingParameter), errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrNotResolved), errors.Is(err, ErrModelNotSet):
		return "invalid_record"
	case errors.Is(err, ErrDecodeFailure):
		return "decode"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}

// observe starts a span and returns the function that closes it
func (a *InstrumentedAdapter) observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "audit."+operation, trace.WithAttributes(
		append(attrs, attribute.String("audit.backend", a.backend))...,
	))

	return ctx, func(err error) {
		elapsed := time.Since(start)

		status := "success"
		// a miss is an answer, not a failure
		if err != nil && !errors.Is(err, ErrNotFound) {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if a.metrics != nil {
			a.metrics.AdapterOperationsTotal.WithLabelValues(operation, a.backend, status).Inc()
			a.metrics.AdapterOperationDuration.WithLabelValues(operation, a.backend).Observe(elapsed.Seconds())
			if err != nil {
				a.metrics.AdapterErrorsTotal.WithLabelValues(operation, a.backend, errorType(err)).Inc()
			}
		}
		if a.otel != nil {
			a.otel.RecordAdapterOperation(ctx, operation, a.backend, elapsed, err)
		}
	}
}

func (a *InstrumentedAdapter) Send(ctx context.Context, rec *Record) (persisted *Record, err error) {
	var attrs []attribute.KeyValue
	if rec != nil {
		attrs = append(attrs,
			attribute.String("audit.model", rec.Model),
			attribute.String("audit.action", string(rec.Action())),
		)
	}
	ctx, done := a.observe(ctx, "send", attrs...)
	defer func() { done(err) }()

	persisted, err = a.next.Send(ctx, rec)
	if err == nil && persisted != nil {
		if a.metrics != nil {
			a.metrics.RecordsSentTotal.WithLabelValues(a.backend, string(persisted.Action())).Inc()
		}
		if a.otel != nil {
			a.otel.RecordSent(ctx, a.backend, string(persisted.Action()))
		}
	}
	return persisted, err
}

func (a *InstrumentedAdapter) GetStates(ctx context.Context, opts ListOptions) (records []*Record, err error) {
	ctx, done := a.observe(ctx, "get_states", attribute.Int("audit.limit", opts.Limit))
	defer func() { done(err) }()
	return a.next.GetStates(ctx, opts)
}

func (a *InstrumentedAdapter) GetStateByID(ctx context.Context, id string) (rec *Record, err error) {
	ctx, done := a.observe(ctx, "get_state_by_id", attribute.String("audit.id", id))
	defer func() { done(err) }()
	return a.next.GetStateByID(ctx, id)
}

func (a *InstrumentedAdapter) GetStateByModel(ctx context.Context, model, modelID string) (records []*Record, err error) {
	ctx, done := a.observe(ctx, "get_state_by_model", attribute.String("audit.model", model))
	defer func() { done(err) }()
	return a.next.GetStateByModel(ctx, model, modelID)
}

func (a *InstrumentedAdapter) GetStateByTimestamp(ctx context.Context, from, backTo time.Time) (records []*Record, err error) {
	ctx, done := a.observe(ctx, "get_state_by_timestamp")
	defer func() { done(err) }()
	return a.next.GetStateByTimestamp(ctx, from, backTo)
}

func (a *InstrumentedAdapter) GetStateByDate(ctx context.Context, from, backTo string) (records []*Record, err error) {
	ctx, done := a.observe(ctx, "get_state_by_date",
		attribute.String("audit.from", from),
		attribute.String("audit.back_to", backTo),
	)
	defer func() { done(err) }()
	return a.next.GetStateByDate(ctx, from, backTo)
}

func (a *InstrumentedAdapter) GetSnapshot(ctx context.Context, id string, post bool) (snapshot Snapshot, err error) {
	ctx, done := a.observe(ctx, "get_snapshot",
		attribute.String("audit.id", id),
		attribute.Bool("audit.post", post),
	)
	defer func() { done(err) }()
	return a.next.GetSnapshot(ctx, id, post)
}
