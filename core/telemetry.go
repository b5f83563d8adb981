package core

import "context"

// Telemetry is the narrow interface through which the core emits spans and
// metrics. The core never imports an OTel SDK directly; see package
// telemetry for an adapter.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span is a minimal tracing span.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpTelemetry discards all spans and metrics. Default when no Telemetry
// is configured.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noOpSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

type noOpSpan struct{}

func (noOpSpan) End()                             {}
func (noOpSpan) SetAttribute(string, interface{}) {}
func (noOpSpan) RecordError(error)                {}
