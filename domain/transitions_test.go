package domain_test

import (
	"testing"

	"github.com/icij/taskworker/domain"
)

func TestCanTransition_HappyPath(t *testing.T) {
	cases := []struct {
		from, to domain.TaskStatus
		want     bool
	}{
		{domain.TaskCreated, domain.TaskQueued, true},
		{domain.TaskQueued, domain.TaskRunning, true},
		{domain.TaskQueued, domain.TaskCancelled, true},
		{domain.TaskRunning, domain.TaskQueued, true},
		{domain.TaskRunning, domain.TaskDone, true},
		{domain.TaskRunning, domain.TaskErrored, true},
		{domain.TaskRunning, domain.TaskCancelled, true},
		{domain.TaskCreated, domain.TaskRunning, false},
		{domain.TaskDone, domain.TaskQueued, false},
		{domain.TaskDone, domain.TaskCancelled, false},
		{domain.TaskErrored, domain.TaskCancelled, false},
	}
	for _, c := range cases {
		if got := domain.CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestResolveStatus_TerminalIsFrozen(t *testing.T) {
	got, changed := domain.ResolveStatus(domain.TaskDone, 0, domain.TaskRunning, 0)
	if changed || got != domain.TaskDone {
		t.Fatalf("expected terminal state frozen, got %s changed=%v", got, changed)
	}
}

func TestResolveStatus_CancelPreemptsRunning(t *testing.T) {
	got, changed := domain.ResolveStatus(domain.TaskRunning, 2, domain.TaskCancelled, 2)
	if !changed || got != domain.TaskCancelled {
		t.Fatalf("expected CANCELLED to preempt RUNNING, got %s changed=%v", got, changed)
	}
}

func TestResolveStatus_RetryRequiresStrictIncrease(t *testing.T) {
	// Same retries: a delayed duplicate QUEUED event, ignored.
	got, changed := domain.ResolveStatus(domain.TaskRunning, 1, domain.TaskQueued, 1)
	if changed || got != domain.TaskRunning {
		t.Fatalf("expected duplicate QUEUED event ignored, got %s changed=%v", got, changed)
	}
	// Strictly greater retries: a genuine retry.
	got, changed = domain.ResolveStatus(domain.TaskRunning, 1, domain.TaskQueued, 2)
	if !changed || got != domain.TaskQueued {
		t.Fatalf("expected retry to move to QUEUED, got %s changed=%v", got, changed)
	}
}

func TestResolveStatus_OutOfOrderNeverRegresses(t *testing.T) {
	// A stale CREATED event arriving after RUNNING has already been observed
	// must not regress the status.
	got, changed := domain.ResolveStatus(domain.TaskRunning, 0, domain.TaskCreated, 0)
	if changed || got != domain.TaskRunning {
		t.Fatalf("expected no regression to CREATED, got %s changed=%v", got, changed)
	}
}

func TestResolveStatus_FirstTerminalWins(t *testing.T) {
	got, changed := domain.ResolveStatus(domain.TaskErrored, 0, domain.TaskDone, 0)
	if changed || got != domain.TaskErrored {
		t.Fatalf("expected first terminal (ERROR) to win over late DONE, got %s changed=%v", got, changed)
	}
}
