package telemetry

import "context"

type (
	noopLogger struct{}
	noopMetrics struct{}
	noopTracer  struct{}
	noopSpan    struct{}
)

// NewNoopLogger returns a Logger that discards everything. Useful for tests
// and as the zero-value default when no logger is configured.
func NewNoopLogger() Logger { return noopLogger{} }

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

// NewNoopMetrics returns a Metrics that discards everything.
func NewNoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) IncCounter(string, int64, ...string)   {}
func (noopMetrics) RecordTimer(string, float64, ...string) {}
func (noopMetrics) RecordGauge(string, float64, ...string) {}

// NewNoopTracer returns a Tracer that discards everything.
func NewNoopTracer() Tracer { return noopTracer{} }

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopSpan) AddEvent(string, ...any)  {}
func (noopSpan) SetStatus(error)          {}
func (noopSpan) RecordError(error)        {}
func (noopSpan) End()                     {}

var (
	_ Logger  = noopLogger{}
	_ Metrics = noopMetrics{}
	_ Tracer  = noopTracer{}
	_ Span    = noopSpan{}
)
