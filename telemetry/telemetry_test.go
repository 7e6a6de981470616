package telemetry_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/icij/taskworker/telemetry"
)

func TestNew_StartTaskAttempt_EmitsSpanWithTaskAttributes(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()

	p, err := telemetry.New("taskworker-test", exp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := p.StartTaskAttempt(context.Background(), "proj1", "t1", "hello", 2)
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	ended := exp.GetSpans()
	if len(ended) != 1 {
		t.Fatalf("expected one ended span, got %d", len(ended))
	}
	if ended[0].Name != "task.attempt" {
		t.Fatalf("expected span name task.attempt, got %q", ended[0].Name)
	}
	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["task.id"] != "t1" || attrs["task.project"] != "proj1" || attrs["task.type"] != "hello" {
		t.Fatalf("unexpected span attributes: %v", attrs)
	}
	if attrs["task.retries"] != "2" {
		t.Fatalf("expected task.retries=2, got %v", attrs["task.retries"])
	}
}

func TestNew_RegisterSpanProcessor_ObservesSpansDirectly(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	exp := tracetest.NewInMemoryExporter()

	p, err := telemetry.New("taskworker-test", exp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	p.TracerProvider().RegisterSpanProcessor(recorder)

	_, span := p.StartTaskAttempt(context.Background(), "proj2", "t2", "world", 0)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected one ended span, got %d", len(ended))
	}
	if ended[0].Name() != "task.attempt" {
		t.Fatalf("expected span name task.attempt, got %q", ended[0].Name())
	}
}
