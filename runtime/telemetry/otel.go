package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// otelMetrics wraps the global OTEL MeterProvider. Configure the provider
// via otel.SetMeterProvider before constructing this.
type otelMetrics struct {
	meter          metric.Meter
	counters       map[string]metric.Float64Counter
	histograms     map[string]metric.Float64Histogram
	gauges         map[string]metric.Float64Gauge
}

// NewOtelMetrics constructs a Metrics recorder backed by OTEL metrics,
// scoped under the given instrumentation name (typically the module path).
func NewOtelMetrics(instrumentationName string) Metrics {
	return &otelMetrics{
		meter:      otel.Meter(instrumentationName),
		counters:   map[string]metric.Float64Counter{},
		histograms: map[string]metric.Float64Histogram{},
		gauges:     map[string]metric.Float64Gauge{},
	}
}

func (m *otelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), value, metric.WithAttributes(attrs(tags)...))
}

func (m *otelMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		m.histograms[name] = h
	}
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(attrs(tags)...))
}

func (m *otelMetrics) RecordGauge(name string, value float64, tags ...string) {
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		m.gauges[name] = g
	}
	g.Record(context.Background(), value, metric.WithAttributes(attrs(tags)...))
}

func attrs(tags []string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		out = append(out, attribute.String(tags[i], tags[i+1]))
	}
	return out
}

// otelTracer wraps the global OTEL TracerProvider.
type otelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer constructs a Tracer backed by OTEL tracing, scoped under the
// given instrumentation name.
func NewOtelTracer(instrumentationName string) Tracer {
	return &otelTracer{tracer: otel.Tracer(instrumentationName)}
}

type otelSpan struct {
	span trace.Span
}

func (t *otelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, &otelSpan{span: span}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }
func (s *otelSpan) AddEvent(name string, kv ...any) { s.span.AddEvent(name) }
func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}
func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}
