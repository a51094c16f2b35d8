// Package tracing wires OpenTelemetry spans around attestation work. Without
// Setup the global no-op provider is used and spans cost nothing.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"AIJudge-Chain/pkg/logger"
)

const instrumentationName = "AIJudge-Chain"

// Config configures OTLP trace export.
type Config struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
}

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// Setup installs a global tracer provider exporting over OTLP/gRPC. A disabled
// config leaves the no-op provider in place.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("tracing endpoint is empty")
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	provider, err := newProvider(cfg, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
	if err != nil {
		return nil, err
	}
	install(provider)
	logger.Named("tracing").Info("tracing enabled",
		slog.String("endpoint", cfg.Endpoint),
		slog.Float64("sample_rate", cfg.SampleRate),
	)
	return provider.Shutdown, nil
}

func newProvider(cfg Config, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "aijudged"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(name)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	opts = append(opts, sdktrace.WithResource(res), sdktrace.WithSampler(sampler(cfg.SampleRate)))
	return sdktrace.NewTracerProvider(opts...), nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0 || rate >= 1:
		// unset means sample everything
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func install(provider trace.TracerProvider) {
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Start opens a span named name under the package tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
