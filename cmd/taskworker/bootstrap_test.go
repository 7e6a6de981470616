package main

import (
	"context"
	"testing"

	"github.com/icij/taskworker/store/memory"
)

func TestBuildRegistry_EchoTaskRoundTrips(t *testing.T) {
	r := buildRegistry()
	entry, err := r.Lookup("echo")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	var progressed float64
	result, err := entry.Invoke(context.Background(), map[string]any{"message": "hi"}, func(p float64) { progressed = p })
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result != "hi" {
		t.Fatalf("expected echoed message, got %v", result)
	}
	if progressed != 100 {
		t.Fatalf("expected progress callback to report 100, got %v", progressed)
	}
}

func TestBuildMigrationSteps_EnsuresProject(t *testing.T) {
	s, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	steps := buildMigrationSteps(s)
	if len(steps) != 1 {
		t.Fatalf("expected exactly one built-in step, got %d", len(steps))
	}
	if err := steps[0].Fn(context.Background(), "proj1"); err != nil {
		t.Fatalf("built-in step failed: %v", err)
	}
}
