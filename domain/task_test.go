package domain_test

import (
	"testing"
	"time"

	"github.com/icij/taskworker/domain"
)

func validTask() *domain.Task {
	return &domain.Task{
		ID:        "task-1",
		Type:      "hello",
		Project:   "local",
		Status:    domain.TaskCreated,
		CreatedAt: time.Now(),
		Inputs:    map[string]any{"greeted": "world"},
	}
}

func TestTaskFilter_MatchesStatus(t *testing.T) {
	task := validTask()
	task.Status = domain.TaskRunning
	f := domain.TaskFilter{Statuses: []domain.TaskStatus{domain.TaskQueued, domain.TaskRunning}}
	if !f.Matches(task) {
		t.Fatal("expected task to match status filter")
	}
	f = domain.TaskFilter{Statuses: []domain.TaskStatus{domain.TaskDone}}
	if f.Matches(task) {
		t.Fatal("expected task not to match status filter")
	}
}

func TestTaskFilter_MatchesTypeSubstring(t *testing.T) {
	task := validTask()
	f := domain.TaskFilter{Type: "HEL"}
	if !f.Matches(task) {
		t.Fatal("expected case-insensitive substring match")
	}
	f = domain.TaskFilter{Type: "goodbye"}
	if f.Matches(task) {
		t.Fatal("expected no match for unrelated substring")
	}
}

func TestTask_InputsJSON_RoundTrip(t *testing.T) {
	task := validTask()
	s, err := task.InputsJSON()
	if err != nil {
		t.Fatalf("InputsJSON: %v", err)
	}
	back, err := domain.ParseInputsJSON(s)
	if err != nil {
		t.Fatalf("ParseInputsJSON: %v", err)
	}
	if back["greeted"] != "world" {
		t.Fatalf("expected round-tripped greeted=world, got %v", back["greeted"])
	}
}

func TestTask_Clone_IsIndependent(t *testing.T) {
	task := validTask()
	cp := task.Clone()
	cp.Inputs["greeted"] = "mutated"
	if task.Inputs["greeted"] != "world" {
		t.Fatal("expected Clone to deep-copy Inputs")
	}
}
