package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/icij/taskworker/domain"
	"github.com/icij/taskworker/store/memory"
)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *memory.Store, project, id string) {
	t.Helper()
	ctx := context.Background()
	if err := s.EnsureProject(ctx, project); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	task := &domain.Task{
		ID: id, Type: "extract", Project: project,
		Status: domain.TaskCreated, CreatedAt: time.Now().UTC(),
		Inputs: map[string]any{"path": "/tmp/x"},
	}
	if err := s.CreateTask(ctx, project, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
}

func TestCreateTask_DuplicateRejected(t *testing.T) {
	s := newStore(t)
	mustCreate(t, s, "proj1", "task1")
	task := &domain.Task{ID: "task1", Type: "extract", Project: "proj1", Status: domain.TaskCreated, CreatedAt: time.Now()}
	err := s.CreateTask(context.Background(), "proj1", task)
	if !errors.Is(err, domain.ErrTaskAlreadyExists) {
		t.Fatalf("expected ErrTaskAlreadyExists, got %v", err)
	}
}

func TestGetTask_Unknown(t *testing.T) {
	s := newStore(t)
	_, err := s.GetTask(context.Background(), "proj1", "nope")
	if !errors.Is(err, domain.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestAcquireLock_AtMostOneReservationUnderConcurrency(t *testing.T) {
	s := newStore(t)
	mustCreate(t, s, "proj1", "task1")

	const n = 32
	var wg sync.WaitGroup
	successes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			workerID := "worker-" + string(rune('a'+i%26))
			err := s.AcquireLock(context.Background(), "proj1", "task1", workerID)
			if err == nil {
				successes <- workerID
			} else if !errors.Is(err, domain.ErrTaskAlreadyReserved) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one successful reservation, got %d", count)
	}
}

func TestSaveResult_WriteOnce(t *testing.T) {
	s := newStore(t)
	mustCreate(t, s, "proj1", "task1")
	ctx := context.Background()
	if err := s.SaveResult(ctx, "proj1", &domain.TaskResult{TaskID: "task1", Result: "ok"}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	err := s.SaveResult(ctx, "proj1", &domain.TaskResult{TaskID: "task1", Result: "again"})
	if err == nil {
		t.Fatal("expected error on second write to same task result")
	}
	got, err := s.GetTaskResult(ctx, "proj1", "task1")
	if err != nil {
		t.Fatalf("GetTaskResult: %v", err)
	}
	if got.Result != "ok" {
		t.Fatalf("expected first write to survive, got %q", got.Result)
	}
}

func TestAcquireMigration_ExclusivityUnderConcurrency(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.EnsureProject(ctx, "proj1"); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	successes := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := domain.MigrationRecord{
				Project: "proj1", Version: "v1", Label: "add-index",
				Status: domain.MigrationInProgress, Started: time.Now().UTC(),
			}
			err := s.AcquireMigration(ctx, rec)
			if err == nil {
				successes <- i
			} else if !errors.Is(err, domain.ErrMigrationConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one migration leader to win, got %d", count)
	}
}

func TestApplyEvent_FirstSightingCreatesTask(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.EnsureProject(ctx, "proj1"); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	typ := "extract"
	createdAt := time.Now().UTC()
	status := domain.TaskQueued
	task, err := s.ApplyEvent(ctx, "proj1", domain.TaskEvent{
		TaskID: "task1", Type: &typ, CreatedAt: &createdAt, Status: &status,
	})
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if task.Status != domain.TaskQueued {
		t.Fatalf("expected QUEUED, got %s", task.Status)
	}
}

func TestApplyEvent_ErrorsAppendEvenOnNoOpStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreate(t, s, "proj1", "task1")

	status := domain.TaskCreated // same as stored: no-op transition
	_, err := s.ApplyEvent(ctx, "proj1", domain.TaskEvent{
		TaskID: "task1", Status: &status,
		Error: &domain.TaskError{Title: "transient", Detail: "connection reset", OccurredAt: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	errs, err := s.GetTaskErrors(ctx, "proj1", "task1")
	if err != nil {
		t.Fatalf("GetTaskErrors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected error recorded despite no-op status update, got %d", len(errs))
	}
}

func TestApplyEvent_TerminalStatusIsFrozen(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreate(t, s, "proj1", "task1")

	done := domain.TaskDone
	if _, err := s.ApplyEvent(ctx, "proj1", domain.TaskEvent{TaskID: "task1", Status: &done}); err != nil {
		t.Fatalf("ApplyEvent DONE: %v", err)
	}
	queued := domain.TaskQueued
	task, err := s.ApplyEvent(ctx, "proj1", domain.TaskEvent{TaskID: "task1", Status: &queued})
	if err != nil {
		t.Fatalf("ApplyEvent QUEUED after DONE: %v", err)
	}
	if task.Status != domain.TaskDone {
		t.Fatalf("expected DONE to stay frozen, got %s", task.Status)
	}
}

func TestDequeueCandidate_OldestFirstAcrossProjects(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, p := range []string{"proj1", "proj2"} {
		if err := s.EnsureProject(ctx, p); err != nil {
			t.Fatalf("EnsureProject: %v", err)
		}
	}
	older := time.Now().Add(-time.Hour).UTC()
	newer := time.Now().UTC()
	status := domain.TaskQueued
	if err := s.CreateTask(ctx, "proj2", &domain.Task{ID: "t-newer", Type: "x", Project: "proj2", Status: status, CreatedAt: newer}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.CreateTask(ctx, "proj1", &domain.Task{ID: "t-older", Type: "x", Project: "proj1", Status: status, CreatedAt: older}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	task, project, err := s.DequeueCandidate(ctx, []string{"proj1", "proj2"})
	if err != nil {
		t.Fatalf("DequeueCandidate: %v", err)
	}
	if task == nil || task.ID != "t-older" || project != "proj1" {
		t.Fatalf("expected oldest task t-older/proj1, got %v/%s", task, project)
	}
}

func TestCancelTask_Idempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustCreate(t, s, "proj1", "task1")

	first, err := s.CancelTask(ctx, "proj1", "task1")
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if first.Status != domain.TaskCancelled {
		t.Fatalf("expected CANCELLED, got %s", first.Status)
	}
	second, err := s.CancelTask(ctx, "proj1", "task1")
	if err != nil {
		t.Fatalf("CancelTask (again): %v", err)
	}
	if second.Status != domain.TaskCancelled {
		t.Fatalf("expected CANCELLED to remain stable, got %s", second.Status)
	}
}

func TestListTasks_FiltersByStatusAndType(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.EnsureProject(ctx, "proj1"); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	mustCreate(t, s, "proj1", "task1")
	if err := s.CreateTask(ctx, "proj1", &domain.Task{ID: "task2", Type: "ocr", Project: "proj1", Status: domain.TaskQueued, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	queued, err := s.ListTasks(ctx, "proj1", domain.TaskFilter{Statuses: []domain.TaskStatus{domain.TaskQueued}})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != "task2" {
		t.Fatalf("expected only task2 queued, got %v", queued)
	}

	byType, err := s.ListTasks(ctx, "proj1", domain.TaskFilter{Type: "extr"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != "task1" {
		t.Fatalf("expected only task1 to match type substring, got %v", byType)
	}
}
