package mailroom

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/mailroom"
)

// opMetrics is the duration/count/errors triplet recorded for one kind of
// operation.
type opMetrics struct {
	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
}

func newOpMetrics(meter metric.Meter, op, what string) (opMetrics, error) {
	var m opMetrics
	var err error

	m.latency, err = meter.Float64Histogram(
		"mailroom."+op+".duration",
		metric.WithDescription("Duration of "+op+" operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return m, err
	}

	m.count, err = meter.Int64Counter(
		"mailroom."+op+".count",
		metric.WithDescription("Number of "+what),
	)
	if err != nil {
		return m, err
	}

	m.errors, err = meter.Int64Counter(
		"mailroom."+op+".errors",
		metric.WithDescription("Number of "+op+" errors"),
	)
	return m, err
}

func (m opMetrics) record(ctx context.Context, duration time.Duration, err error, attrs ...attribute.KeyValue) {
	set := metric.WithAttributes(attrs...)
	m.latency.Record(ctx, duration.Seconds(), set)
	m.count.Add(ctx, 1, set)
	if err != nil {
		m.errors.Add(ctx, 1, set)
	}
}

// otelInstrumentation holds OpenTelemetry instrumentation for the mailroom service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	send   opMetrics
	get    opMetrics
	list   opMetrics
	search opMetrics
	update opMetrics
	delete opMetrics
	notify opMetrics
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	groups := []struct {
		dst  *opMetrics
		op   string
		what string
	}{
		{&o.send, "send", "messages sent"},
		{&o.get, "get", "get operations"},
		{&o.list, "list", "list operations"},
		{&o.search, "search", "search operations"},
		{&o.update, "update", "update operations"},
		{&o.delete, "delete", "delete operations"},
		{&o.notify, "notify", "notifications dispatched"},
	}
	for _, g := range groups {
		m, err := newOpMetrics(meter, g.op, g.what)
		if err != nil {
			return err
		}
		*g.dst = m
	}
	return nil
}

// startSpan starts a new span if tracing is enabled.
// The returned function ends the span and records err on it.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordSend records send metrics. kind is send, reply, forward or draft.
func (o *otelInstrumentation) recordSend(ctx context.Context, duration time.Duration, kind string, err error) {
	if !o.metricsEnabled {
		return
	}
	o.send.record(ctx, duration, err, attribute.String("kind", kind))
}

// recordGet records get operation metrics.
func (o *otelInstrumentation) recordGet(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}
	o.get.record(ctx, duration, err)
}

// recordList records list operation metrics.
func (o *otelInstrumentation) recordList(ctx context.Context, duration time.Duration, folder string, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}
	o.list.record(ctx, duration, err,
		attribute.String("folder", folder),
		attribute.Int("result_count", resultCount),
	)
}

// recordSearch records search operation metrics.
func (o *otelInstrumentation) recordSearch(ctx context.Context, duration time.Duration, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}
	o.search.record(ctx, duration, err, attribute.Int("result_count", resultCount))
}

// recordUpdate records update operation metrics.
func (o *otelInstrumentation) recordUpdate(ctx context.Context, duration time.Duration, operation string, err error) {
	if !o.metricsEnabled {
		return
	}
	o.update.record(ctx, duration, err, attribute.String("operation", operation))
}

// recordDelete records delete operation metrics.
func (o *otelInstrumentation) recordDelete(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}
	o.delete.record(ctx, duration, err)
}

// recordNotify records one background notification.
func (o *otelInstrumentation) recordNotify(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}
	o.notify.record(ctx, duration, err)
}
