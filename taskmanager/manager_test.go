package taskmanager_test

import (
	"context"
	"errors"
	"testing"

	"github.com/icij/taskworker/domain"
	"github.com/icij/taskworker/store/memory"
	"github.com/icij/taskworker/taskmanager"
)

func newManager(t *testing.T, opts ...taskmanager.Option) *taskmanager.Manager {
	t.Helper()
	s, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	return taskmanager.New(s, discardLogger(), opts...)
}

func TestEnqueue_AssignsQueuedStatusAndGeneratesID(t *testing.T) {
	m := newManager(t)
	task, err := m.Enqueue(context.Background(), "proj1", taskmanager.Job{Type: "hello", Inputs: map[string]any{"greeted": "world"}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if task.Status != domain.TaskQueued {
		t.Fatalf("expected QUEUED, got %s", task.Status)
	}
	if task.ID == "" {
		t.Fatal("expected a generated task id")
	}
}

func TestEnqueue_DuplicateIDRejected(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	if _, err := m.Enqueue(ctx, "proj1", taskmanager.Job{TaskID: "t1", Type: "hello"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	_, err := m.Enqueue(ctx, "proj1", taskmanager.Job{TaskID: "t1", Type: "hello"})
	if !errors.Is(err, domain.ErrTaskAlreadyExists) {
		t.Fatalf("expected ErrTaskAlreadyExists, got %v", err)
	}
}

func TestEnqueue_QueueCapEnforced(t *testing.T) {
	m := newManager(t, taskmanager.WithProjectMaxQueueSize("proj1", 1))
	ctx := context.Background()
	if _, err := m.Enqueue(ctx, "proj1", taskmanager.Job{TaskID: "t1", Type: "hello"}); err != nil {
		t.Fatalf("Enqueue t1: %v", err)
	}
	_, err := m.Enqueue(ctx, "proj1", taskmanager.Job{TaskID: "t2", Type: "hello"})
	if !errors.Is(err, domain.ErrTaskQueueIsFull) {
		t.Fatalf("expected ErrTaskQueueIsFull, got %v", err)
	}
	// Prior task unaffected.
	task, err := m.GetTask(ctx, "proj1", "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != domain.TaskQueued {
		t.Fatalf("expected t1 to remain QUEUED, got %s", task.Status)
	}
}

func TestCancel_UnknownTask(t *testing.T) {
	m := newManager(t)
	_, err := m.Cancel(context.Background(), "proj1", "nope")
	if !errors.Is(err, domain.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestGetTaskResult_Missing(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	if _, err := m.Enqueue(ctx, "proj1", taskmanager.Job{TaskID: "t1", Type: "hello"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	_, err := m.GetTaskResult(ctx, "proj1", "t1")
	if !errors.Is(err, domain.ErrMissingTaskResult) {
		t.Fatalf("expected ErrMissingTaskResult, got %v", err)
	}
}
