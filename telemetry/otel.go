// Package telemetry adapts the core's narrow core.Telemetry interface onto
// a real OpenTelemetry SDK. It is never imported by the core packages
// directly — only by whatever composes the final binary.
package telemetry

import (
	"context"
	"sync"

	"github.com/gomind-ai/agentcore/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Providers holds the process-wide SDK tracer/meter providers registered by
// InitProviders, so the caller can flush and shut them down on exit.
type Providers struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// InitProviders builds a real tracer provider and meter provider tagged
// with serviceName and registers them as the global OTel providers, so
// otel.Tracer/otel.Meter — and therefore NewOTelAdapter — read from a real
// SDK instead of the default no-op implementation. No exporter is attached:
// callers that need spans/metrics off-process should attach one to the
// returned providers before traffic starts.
func InitProviders(serviceName string) *Providers {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Providers{tracerProvider: tp, meterProvider: mp}
}

// Shutdown flushes and releases both providers. Safe to call once at
// process exit.
func (p *Providers) Shutdown(ctx context.Context) error {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.meterProvider.Shutdown(ctx)
}

// OTelAdapter implements core.Telemetry on top of a real OTel tracer and
// meter, obtained from the global OTel providers configured by the host
// process (SDK setup is the host's responsibility, not the core's).
type OTelAdapter struct {
	tracer trace.Tracer
	meter  metric.Meter

	mu            sync.Mutex
	float64Gauges map[string]metric.Float64Gauge
}

// NewOTelAdapter creates an adapter reading the global tracer/meter
// providers under the given instrumentation name.
func NewOTelAdapter(instrumentationName string) *OTelAdapter {
	return &OTelAdapter{
		tracer:        otel.Tracer(instrumentationName),
		meter:         otel.Meter(instrumentationName),
		float64Gauges: make(map[string]metric.Float64Gauge),
	}
}

// StartSpan starts a new span, satisfying core.Telemetry.
func (a *OTelAdapter) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := a.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric records a gauge value, lazily creating the instrument.
func (a *OTelAdapter) RecordMetric(name string, value float64, labels map[string]string) {
	a.mu.Lock()
	gauge, ok := a.float64Gauges[name]
	if !ok {
		var err error
		gauge, err = a.meter.Float64Gauge(name)
		if err != nil {
			a.mu.Unlock()
			return
		}
		a.float64Gauges[name] = gauge
	}
	a.mu.Unlock()

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	gauge.Record(context.Background(), value, metric.WithAttributes(attrs...))
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, toString(v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

func toString(v interface{}) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	return ""
}
