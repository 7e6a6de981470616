// Package telemetry wires an OpenTelemetry tracer provider for worker task
// execution spans. It is intentionally small next to a full observability
// stack: one exporter (stdout, swappable later for OTLP), one resource, one
// tracer — enough to trace a task attempt end to end without pulling in a
// collector dependency this system does not otherwise need.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the process-wide TracerProvider and the tracer used to
// annotate worker task attempts.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// New builds a Provider exporting spans via exporter, tagged with
// serviceName, and installs it as the global TracerProvider. Extra
// TracerProviderOptions (e.g. a span processor a test wants to observe
// directly) are appended after the batcher and resource options.
func New(serviceName string, exporter sdktrace.SpanExporter, extra ...sdktrace.TracerProviderOption) (*Provider, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	opts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	}, extra...)
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer(serviceName)}, nil
}

// NewStdout is a convenience constructor for the common stdout-exporter
// case (the ambient default named in the external-interfaces table).
func NewStdout(serviceName string) (*Provider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}
	return New(serviceName, exp)
}

// StartTaskAttempt opens a span for one worker task attempt, pre-populated
// with the identifying attributes a trace consumer needs to correlate it
// back to a Task.
func (p *Provider) StartTaskAttempt(ctx context.Context, project, taskID, taskType string, retries int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "task.attempt",
		trace.WithAttributes(
			attribute.String("task.project", project),
			attribute.String("task.id", taskID),
			attribute.String("task.type", taskType),
			attribute.Int("task.retries", retries),
		),
	)
}

// TracerProvider exposes the underlying provider so a caller (or a test)
// can register additional span processors directly.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	return p.tp
}

// Shutdown flushes pending spans and releases exporter resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	return nil
}
