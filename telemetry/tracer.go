// Package telemetry wires OpenTelemetry tracing across the
// orchestration core's suspension points (§5): each model turn, tool
// execution, and scheduler step opens a span, mirroring the
// `tracer.Start(ctx, "DurableAgent.Execute")` pattern other agent
// frameworks in the retrieval pack use. No OTLP exporter dependency is
// declared in go.mod, so InitTracerProvider wires a TracerProvider with
// whatever SpanProcessor the caller supplies (an in-memory recorder in
// tests, a batch processor over a caller-supplied exporter in
// production) rather than hardcoding a specific wire exporter.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls tracer-provider construction.
type Config struct {
	Enabled      bool
	ServiceName  string
	SamplingRate float64 // 0..1; ignored when Enabled is false
}

// InitTracerProvider installs a global TracerProvider. When disabled it
// installs nothing and returns a nil provider; Tracer then keeps using
// otel's own default global provider, so it still returns a usable,
// zero-cost Tracer.
func InitTracerProvider(ctx context.Context, cfg Config, processors ...sdktrace.SpanProcessor) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, err
	}

	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 1
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(rate)),
		sdktrace.WithResource(res),
	}
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the named tracer from the globally installed provider
// (or the no-op provider if none was installed), following the
// package-level `tracer = otel.Tracer("pkgname")` idiom used across the
// retrieval pack's agent frameworks.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan is a small convenience wrapper so call sites read like the
// pack's `ctx, span := tracer.Start(ctx, "X.Y")` idiom without looking up
// the tracer by name first. Callers that need span attributes call
// span.SetAttributes directly with go.opentelemetry.io/otel/attribute.
func StartSpan(ctx context.Context, tracerName, spanName string) (context.Context, trace.Span) {
	return Tracer(tracerName).Start(ctx, spanName)
}
