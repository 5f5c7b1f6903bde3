// Package telemetry defines the logging, metrics, and tracing sinks used
// throughout the runtime. Components accept these interfaces rather than a
// concrete library so embedders can plug in their own observability stack
// via Logger.UseLogger-style injection at the facade layer.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger receives structured log lines from every runtime component.
	// Implementations must be safe for concurrent use.
	Logger interface {
		Debug(ctx context.Context, msg string, kv ...any)
		Info(ctx context.Context, msg string, kv ...any)
		Warn(ctx context.Context, msg string, kv ...any)
		Error(ctx context.Context, msg string, kv ...any)
	}

	// Metrics records counters, timers, and gauges emitted by the runtime
	// (tool-call counts, turn durations, queue depth, etc.).
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer creates spans around turn execution, tool dispatch, and
	// completion calls.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is a single unit of tracing work.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, kv ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
