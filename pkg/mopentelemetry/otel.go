// Package mopentelemetry wires up tracing for moneycore's saga phases,
// ledger operations, and gate guards.
package mopentelemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the tracer provider lifecycle for one service process.
type Telemetry struct {
	LibraryName     string
	ServiceName     string
	ServiceVersion  string
	DeploymentEnv   string
	ExporterEndpoint string

	provider *sdktrace.TracerProvider
	shutdown func(context.Context) error
}

// Start initializes the global tracer provider with an OTLP gRPC exporter.
func (t *Telemetry) Start(ctx context.Context) error {
	res, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(t.ServiceName),
			semconv.ServiceVersion(t.ServiceVersion),
			semconv.DeploymentEnvironment(t.DeploymentEnv),
		),
	)
	if err != nil {
		return fmt.Errorf("mopentelemetry: resource: %w", err)
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(t.ExporterEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return fmt.Errorf("mopentelemetry: exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	t.provider = tp
	t.shutdown = func(ctx context.Context) error {
		if err := exp.Shutdown(ctx); err != nil {
			return err
		}

		return tp.Shutdown(ctx)
	}

	return nil
}

// Shutdown flushes and stops the exporter/provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.shutdown == nil {
		return nil
	}

	return t.shutdown(ctx)
}

// Tracer returns the named tracer for this service.
//
//nolint:ireturn
func (t *Telemetry) Tracer() trace.Tracer {
	return otel.Tracer(t.LibraryName)
}

// SetSpanAttributesFromJSON attaches a precomputed JSON string as a span attribute.
func SetSpanAttributesFromJSON(span trace.Span, key, json string) {
	span.SetAttributes(attribute.String(key, json))
}

// HandleSpanError marks a span as errored and records the error.
func HandleSpanError(span trace.Span, message string, err error) {
	span.SetStatus(codes.Error, message+": "+err.Error())
	span.RecordError(err)
}
