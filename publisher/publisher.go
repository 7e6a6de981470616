// Package publisher implements the event resolution contract (§4.3): it
// forwards a TaskEvent to the store's atomic ApplyEvent and returns the
// resulting stored task. The precedence/retry rules themselves live in
// domain.ResolveStatus; Publisher is a thin, transaction-boundary-respecting
// front door so taskmanager and worker never call store.Store.ApplyEvent
// directly.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/icij/taskworker/domain"
	"github.com/icij/taskworker/store"
)

// Notifier receives a fire-and-forget callback after every successful
// Publish, with the resulting stored task (whether or not its status
// changed). opsapi.Hub implements this to feed the read-only
// WebSocket event stream; it is optional and never affects Publish's result.
type Notifier interface {
	NotifyTaskStatus(ctx context.Context, t *domain.Task)
}

// Publisher applies TaskEvents to a Store.
type Publisher struct {
	store    store.Store
	log      zerolog.Logger
	notifier Notifier
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithNotifier attaches n so every successfully applied event is also
// broadcast to it after the store write commits.
func WithNotifier(n Notifier) Option {
	return func(p *Publisher) { p.notifier = n }
}

// New constructs a Publisher backed by s.
func New(s store.Store, log zerolog.Logger, opts ...Option) *Publisher {
	p := &Publisher{store: s, log: log.With().Str("component", "publisher").Logger()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Publish resolves ev against the stored task for ev.TaskID and persists the
// result. If ev.Error is set but carries no ID, one is minted so the store's
// write-once-per-error-id constraint has something to key on.
func (p *Publisher) Publish(ctx context.Context, project string, ev domain.TaskEvent) (*domain.Task, error) {
	if ev.Error != nil && ev.Error.ID == "" {
		ev.Error.ID = xid.New().String()
	}
	if ev.Error != nil && ev.Error.OccurredAt.IsZero() {
		ev.Error.OccurredAt = time.Now().UTC()
	}
	task, err := p.store.ApplyEvent(ctx, project, ev)
	if err != nil {
		return nil, fmt.Errorf("publish event for task %s/%s: %w", project, ev.TaskID, err)
	}
	p.log.Debug().
		Str("project", project).
		Str("task_id", ev.TaskID).
		Str("status", string(task.Status)).
		Int("retries", task.Retries).
		Msg("event applied")
	if p.notifier != nil {
		p.notifier.NotifyTaskStatus(ctx, task)
	}
	return task, nil
}

// PublishRunning is a convenience wrapper for the worker's lock-acquisition
// step (§4.4 step 2): status=RUNNING, progress=0.
func (p *Publisher) PublishRunning(ctx context.Context, project, taskID string) (*domain.Task, error) {
	status := domain.TaskRunning
	progress := 0.0
	return p.Publish(ctx, project, domain.TaskEvent{TaskID: taskID, Status: &status, Progress: &progress})
}

// PublishDone records a successful completion: status=DONE, progress=100,
// completed_at=now.
func (p *Publisher) PublishDone(ctx context.Context, project, taskID string) (*domain.Task, error) {
	status := domain.TaskDone
	progress := 100.0
	now := time.Now().UTC()
	return p.Publish(ctx, project, domain.TaskEvent{
		TaskID: taskID, Status: &status, Progress: &progress, CompletedAt: &now,
	})
}

// PublishRetry records a recoverable failure: retries increments, status
// returns to QUEUED (the "retry is starting" signal of §4.1), and the error
// is appended.
func (p *Publisher) PublishRetry(ctx context.Context, project, taskID string, retries int, taskErr *domain.TaskError) (*domain.Task, error) {
	status := domain.TaskQueued
	return p.Publish(ctx, project, domain.TaskEvent{
		TaskID: taskID, Status: &status, Retries: &retries, Error: taskErr,
	})
}

// PublishError records a fatal, non-recoverable failure: status=ERROR,
// completed_at=now, error appended.
func (p *Publisher) PublishError(ctx context.Context, project, taskID string, taskErr *domain.TaskError) (*domain.Task, error) {
	status := domain.TaskErrored
	now := time.Now().UTC()
	return p.Publish(ctx, project, domain.TaskEvent{
		TaskID: taskID, Status: &status, CompletedAt: &now, Error: taskErr,
	})
}

// PublishProgress records an in-flight progress update without touching
// status or retries.
func (p *Publisher) PublishProgress(ctx context.Context, project, taskID string, progress float64) (*domain.Task, error) {
	return p.Publish(ctx, project, domain.TaskEvent{TaskID: taskID, Progress: &progress})
}
