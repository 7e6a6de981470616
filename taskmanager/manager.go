// Package taskmanager implements the TaskManager contract (§4.2): the
// transport-agnostic Go surface for enqueue/cancel/read operations that an
// HTTP façade would sit in front of; opsapi does not call it.
package taskmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icij/taskworker/domain"
	"github.com/icij/taskworker/registry"
	"github.com/icij/taskworker/store"
)

const defaultMaxQueueSize = 1000

// Job is the caller-supplied shape for Enqueue: a task type, its inputs, and
// an optional pre-assigned id (generated with uuid.NewString if absent, per
// spec §6's "task_id generated if absent").
type Job struct {
	TaskID string
	Type   string
	Inputs map[string]any
}

// Manager wraps a store.Store with per-project queue-size limits and,
// optionally, registry-backed type validation at enqueue time (the
// original_source's stricter save-time check, offered here as an option
// rather than a hard requirement per SPEC_FULL.md §3).
type Manager struct {
	store             store.Store
	registry          *registry.Registry
	defaultQueueSize  int
	queueSizeOverride map[string]int
	log               zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultMaxQueueSize overrides the global per-project QUEUED cap
// (default 1000; spec §6 requires ≥1).
func WithDefaultMaxQueueSize(n int) Option {
	return func(m *Manager) { m.defaultQueueSize = n }
}

// WithProjectMaxQueueSize overrides the cap for one specific project.
func WithProjectMaxQueueSize(project string, n int) Option {
	return func(m *Manager) { m.queueSizeOverride[project] = n }
}

// WithRegistry enables strict enqueue-time validation of job.Type against
// the registry, instead of letting an unregistered type fail lazily at
// worker dispatch.
func WithRegistry(r *registry.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// New constructs a Manager backed by s.
func New(s store.Store, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:             s,
		defaultQueueSize:  defaultMaxQueueSize,
		queueSizeOverride: make(map[string]int),
		log:               log.With().Str("component", "taskmanager").Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) maxQueueSize(project string) int {
	if n, ok := m.queueSizeOverride[project]; ok {
		return n
	}
	return m.defaultQueueSize
}

// Enqueue persists job as a new task with status QUEUED (§4.2). Fails with
// domain.ErrTaskAlreadyExists on an id collision, or domain.ErrTaskQueueIsFull
// once the project's QUEUED count is at its cap.
func (m *Manager) Enqueue(ctx context.Context, project string, job Job) (*domain.Task, error) {
	if m.registry != nil {
		if _, err := m.registry.Lookup(job.Type); err != nil {
			return nil, err
		}
	}
	if err := m.store.EnsureProject(ctx, project); err != nil {
		return nil, fmt.Errorf("enqueue: ensure project: %w", err)
	}

	queued, err := m.store.CountByStatus(ctx, project, domain.TaskQueued)
	if err != nil {
		return nil, fmt.Errorf("enqueue: count queued: %w", err)
	}
	if queued >= m.maxQueueSize(project) {
		return nil, fmt.Errorf("%w: project %s at %d queued tasks", domain.ErrTaskQueueIsFull, project, queued)
	}

	taskID := job.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	task := &domain.Task{
		ID:        taskID,
		Type:      job.Type,
		Project:   project,
		Status:    domain.TaskQueued,
		CreatedAt: time.Now().UTC(),
		Inputs:    job.Inputs,
	}
	if err := m.store.CreateTask(ctx, project, task); err != nil {
		return nil, err
	}
	m.log.Info().Str("project", project).Str("task_id", taskID).Str("type", job.Type).Msg("task enqueued")
	return task, nil
}

// Cancel forces taskID to CANCELLED regardless of its current non-terminal
// status; idempotent if already terminal-cancelled. Fails with
// domain.ErrUnknownTask if no such id exists.
func (m *Manager) Cancel(ctx context.Context, project, taskID string) (*domain.Task, error) {
	task, err := m.store.CancelTask(ctx, project, taskID)
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("project", project).Str("task_id", taskID).Msg("task cancelled")
	return task, nil
}

// GetTask returns the task, or domain.ErrUnknownTask if absent.
func (m *Manager) GetTask(ctx context.Context, project, taskID string) (*domain.Task, error) {
	return m.store.GetTask(ctx, project, taskID)
}

// GetTasks returns all tasks in project matching filter.
func (m *Manager) GetTasks(ctx context.Context, project string, filter domain.TaskFilter) ([]*domain.Task, error) {
	return m.store.ListTasks(ctx, project, filter)
}

// GetTaskErrors returns the recorded errors for a task, oldest first.
func (m *Manager) GetTaskErrors(ctx context.Context, project, taskID string) ([]*domain.TaskError, error) {
	return m.store.GetTaskErrors(ctx, project, taskID)
}

// GetTaskResult returns the stored result, or domain.ErrMissingTaskResult if
// none has been saved.
func (m *Manager) GetTaskResult(ctx context.Context, project, taskID string) (*domain.TaskResult, error) {
	return m.store.GetTaskResult(ctx, project, taskID)
}
