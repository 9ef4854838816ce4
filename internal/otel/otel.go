// Package otel sets up OpenTelemetry tracing for the engine.
package otel

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "accafreeze-engine"

// Options configures the tracer provider
type Options struct {
	// Endpoint is the OTLP/HTTP collector host:port; empty disables tracing
	Endpoint string

	// SampleRatio is the fraction of root spans kept, 1 keeps all
	SampleRatio float64

	Version string
}

// InitTracer installs an OTLP/HTTP tracer provider. Without an endpoint the
// global no-op provider stays in place. The returned func flushes pending
// spans and shuts the provider down.
func InitTracer(opts Options) func() {
	if opts.Endpoint == "" {
		return func() {}
	}
	ratio := opts.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(opts.Endpoint),
		otlptracehttp.WithInsecure(),
	))
	if err != nil {
		logrus.WithError(err).Warn("Failed to create trace exporter, tracing disabled")
		return func() {}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(opts.Version),
		)),
	)
	otel.SetTracerProvider(tp)
	logrus.WithFields(logrus.Fields{
		"endpoint":     opts.Endpoint,
		"sample_ratio": ratio,
	}).Info("Tracing enabled")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logrus.WithError(err).Warn("Tracer shutdown failed")
		}
	}
}

// Tracer returns the engine tracer
func Tracer() trace.Tracer {
	return otel.Tracer(serviceName)
}

// RecordError marks the span in ctx as failed. A nil err is ignored.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
