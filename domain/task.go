// Package domain contains the core entities, state machine, and sentinel
// errors for the distributed task execution system.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "CREATED"
	TaskQueued    TaskStatus = "QUEUED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskDone      TaskStatus = "DONE"
	TaskErrored   TaskStatus = "ERROR"
	TaskCancelled TaskStatus = "CANCELLED"
)

// IsTerminal reports whether s is one of the three terminal statuses.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskDone || s == TaskErrored || s == TaskCancelled
}

// rank gives the precedence order of §4.1: CREATED < QUEUED < RUNNING <
// {terminal}. All three terminal statuses share the same rank — the first
// one to arrive wins; a later terminal event is never applied over an
// earlier one (see ResolveStatus in transitions.go).
func (s TaskStatus) rank() int {
	switch s {
	case TaskCreated:
		return 0
	case TaskQueued:
		return 1
	case TaskRunning:
		return 2
	default:
		return 3
	}
}

// Task is the central entity: a unit of work submitted to a project queue.
type Task struct {
	ID          string
	Type        string
	Project     string
	Status      TaskStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	Progress    *float64
	Retries     int
	Inputs      map[string]any
}

// InputsJSON serializes Inputs the way the store layer persists them: as an
// opaque string column/property.
func (t *Task) InputsJSON() (string, error) {
	if t.Inputs == nil {
		return "{}", nil
	}
	b, err := json.Marshal(t.Inputs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseInputsJSON decodes a string column/property back into Inputs.
func ParseInputsJSON(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Clone returns a deep-enough copy safe to hand to callers outside a store
// implementation's lock.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.CompletedAt != nil {
		ca := *t.CompletedAt
		cp.CompletedAt = &ca
	}
	if t.Progress != nil {
		p := *t.Progress
		cp.Progress = &p
	}
	if t.Inputs != nil {
		cp.Inputs = make(map[string]any, len(t.Inputs))
		for k, v := range t.Inputs {
			cp.Inputs[k] = v
		}
	}
	return &cp
}

// TaskError records one failed attempt. Many may exist per task.
type TaskError struct {
	ID         string
	TaskID     string
	Title      string
	Detail     string
	OccurredAt time.Time
}

// TaskResult is the write-once outcome of a successfully completed task.
type TaskResult struct {
	TaskID string
	Result string
}

// TaskFilter narrows a GetTasks query. A nil/empty field is not applied.
type TaskFilter struct {
	Statuses []TaskStatus
	Type     string // substring match against Task.Type
}

// Matches reports whether t satisfies f.
func (f TaskFilter) Matches(t *Task) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Type != "" && !strings.Contains(strings.ToLower(t.Type), strings.ToLower(f.Type)) {
		return false
	}
	return true
}
