// Package telemetry defines the logging, metrics, and tracing abstractions
// shared by every kernel component. Components depend only on these
// interfaces; concrete backends (no-op, clue/OTEL) are wired at process
// startup.
package telemetry

import "context"

type (
	// Logger emits structured log lines. Implementations must be safe for
	// concurrent use. Key/value pairs are variadic and interpreted as
	// alternating key, value, key, value...
	Logger interface {
		Debug(ctx context.Context, msg string, kv ...any)
		Info(ctx context.Context, msg string, kv ...any)
		Warn(ctx context.Context, msg string, kv ...any)
		Error(ctx context.Context, msg string, kv ...any)
	}

	// Metrics records counters, timers, and gauges. Names should be
	// dot-separated (e.g. "pool.scale.duration_ms").
	Metrics interface {
		IncCounter(name string, delta int64, tags ...string)
		RecordTimer(name string, ms float64, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer creates spans for request-scoped tracing.
	Tracer interface {
		Start(ctx context.Context, name string) (context.Context, Span)
	}

	// Span is a single unit of tracing work.
	Span interface {
		AddEvent(name string, kv ...any)
		SetStatus(err error)
		RecordError(err error)
		End()
	}
)
