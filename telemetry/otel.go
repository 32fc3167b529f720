package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider wires OpenTelemetry tracing for the engine, ported from the
// teacher's telemetry.OTelProvider: OTLP/gRPC when an endpoint is given
// (orchestratord passes NEXUS_OTEL_EXPORTER), a stdout exporter otherwise
// so local runs still produce spans.
type Provider struct {
	tracer        trace.Tracer
	traceProvider *sdktrace.TracerProvider
	shutdownOnce  sync.Once
}

// NewProvider builds a Provider for serviceName. endpoint is an
// OTLP/gRPC endpoint (e.g. "otel-collector:4317"); empty means stdout.
func NewProvider(ctx context.Context, serviceName, endpoint string) (*Provider, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}

	var exporter sdktrace.SpanExporter
	var err error
	if endpoint != "" {
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("creating OTLP exporter: %w", err)
		}
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		tracer:        tp.Tracer(serviceName),
		traceProvider: tp,
	}, nil
}

// StartSpan begins a span named name, returning the enriched context and
// a finisher the caller defers.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// Shutdown flushes and stops the trace pipeline; safe to call more than
// once.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		err = p.traceProvider.Shutdown(ctx)
	})
	return err
}
