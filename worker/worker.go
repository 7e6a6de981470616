// Package worker implements the worker runtime (§4.4): a single-threaded
// cooperative loop, owned by one OS process, that receives QUEUED tasks,
// locks them, dispatches to the Registry, and resolves retries/results/errors
// through the EventPublisher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LK4D4/joincontext"
	"github.com/armon/circbuf"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/icij/taskworker/domain"
	"github.com/icij/taskworker/observability/metrics"
	"github.com/icij/taskworker/publisher"
	"github.com/icij/taskworker/registry"
	"github.com/icij/taskworker/store"
	"github.com/icij/taskworker/telemetry"
)

const (
	defaultPollInterval     = time.Second
	defaultCancelRefresh    = 2 * time.Second
	defaultHardRetryCeiling = 1000
	defaultErrorDetailCap   = 1 << 16 // 64 KiB, bounds captured panic/error text
)

// Worker implements work_once/work_forever against a shared Store, Publisher
// and Registry. A Worker instance processes exactly one task at a time by
// construction (§5 "single active task per worker").
type Worker struct {
	ID       string
	store    store.Store
	pub      *publisher.Publisher
	reg      *registry.Registry
	projects []string

	pollInterval     time.Duration
	cancelRefresh    time.Duration
	hardRetryCeiling int
	errDetailCap     int64

	metrics *metrics.Collector
	tracer  *telemetry.Provider
	log     zerolog.Logger

	mu          sync.Mutex
	cancelled   map[string]*lru.Cache[string, struct{}] // per-project cancelled task id cache
	lastRefresh map[string]time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithPollInterval sets the idle poll cadence used while waiting for a
// QUEUED task (spec §6 task_queue_poll_interval_s, default 1s).
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithCancelledRefreshInterval sets the minimum interval between cancelled-id
// set refreshes (spec §6 cancelled_tasks_refresh_interval_s, default 2s).
func WithCancelledRefreshInterval(d time.Duration) Option {
	return func(w *Worker) { w.cancelRefresh = d }
}

// WithHardRetryCeiling bounds unbounded-retry task types (registry entries
// with no MaxRetries) — the conservative implementation spec §9 recommends.
func WithHardRetryCeiling(n int) Option {
	return func(w *Worker) { w.hardRetryCeiling = n }
}

// WithMetrics attaches a Prometheus collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithTracer attaches a telemetry.Provider so each task attempt opens a
// "task.attempt" span.
func WithTracer(t *telemetry.Provider) Option {
	return func(w *Worker) { w.tracer = t }
}

// New constructs a Worker with id serving the given projects.
func New(id string, s store.Store, pub *publisher.Publisher, reg *registry.Registry, projects []string, log zerolog.Logger, opts ...Option) *Worker {
	w := &Worker{
		ID:               id,
		store:            s,
		pub:              pub,
		reg:              reg,
		projects:         projects,
		pollInterval:     defaultPollInterval,
		cancelRefresh:    defaultCancelRefresh,
		hardRetryCeiling: defaultHardRetryCeiling,
		errDetailCap:     defaultErrorDetailCap,
		log:              log.With().Str("component", "worker").Str("worker_id", id).Logger(),
		cancelled:        make(map[string]*lru.Cache[string, struct{}]),
		lastRefresh:      make(map[string]time.Time),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// WorkForever runs WorkOnce until ctx is cancelled. It always returns nil
// when the context expires — a fatal framework-level error is the only other
// exit, per §7 "errors inside task bodies never crash the worker process".
func (w *Worker) WorkForever(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.WorkOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// WorkOnce runs a single receive/lock/dispatch/retry iteration (§4.4).
func (w *Worker) WorkOnce(ctx context.Context) error {
	task, project, err := w.receive(ctx)
	if err != nil {
		return err
	}
	if task == nil {
		return nil // ctx cancelled while idle-polling
	}

	if err := w.store.AcquireLock(ctx, project, task.ID, w.ID); err != nil {
		if errors.Is(err, domain.ErrTaskAlreadyReserved) {
			w.countIteration("lost_race")
			return nil // another worker won; no penalty
		}
		return fmt.Errorf("work_once: acquire lock: %w", err)
	}

	if _, err := w.pub.PublishRunning(ctx, project, task.ID); err != nil {
		_ = w.store.ReleaseLock(ctx, project, task.ID)
		return fmt.Errorf("work_once: publish running: %w", err)
	}

	w.dispatch(ctx, project, task)
	return nil
}

// receive blocks (via polling) until a QUEUED task is available across the
// worker's projects, or ctx is cancelled.
func (w *Worker) receive(ctx context.Context) (*domain.Task, string, error) {
	for {
		task, project, err := w.store.DequeueCandidate(ctx, w.projects)
		if err != nil {
			return nil, "", fmt.Errorf("work_once: receive: %w", err)
		}
		if task != nil {
			return task, project, nil
		}
		select {
		case <-ctx.Done():
			return nil, "", nil
		case <-time.After(w.pollInterval):
		}
	}
}

// dispatch resolves the task's registry entry and runs the execute-with-retry
// loop (§4.4 steps 4-6), releasing the lock on every exit path.
func (w *Worker) dispatch(ctx context.Context, project string, task *domain.Task) {
	defer func() {
		if err := w.store.ReleaseLock(ctx, project, task.ID); err != nil {
			w.log.Error().Err(err).Str("task_id", task.ID).Msg("release lock failed")
		}
	}()

	if w.isCancelled(ctx, project, task.ID, true) {
		w.countIteration("cancelled_before_dispatch")
		return
	}

	entry, err := w.reg.Lookup(task.Type)
	if err != nil {
		w.fail(ctx, project, task.ID, "UnregisteredTask", err.Error())
		w.countIteration("unregistered")
		return
	}

	w.executeWithRetry(ctx, project, task, entry)
}

// executeWithRetry implements §4.4 step 5.
func (w *Worker) executeWithRetry(ctx context.Context, project string, task *domain.Task, entry *registry.Entry) {
	retries := task.Retries
	for {
		if max := entry.MaxRetries(); max != nil {
			if retries > *max {
				w.fail(ctx, project, task.ID, "MaxRetriesExceeded", domain.ErrMaxRetriesExceeded.Error())
				w.countIteration("max_retries_exceeded")
				return
			}
		} else if retries > w.hardRetryCeiling {
			w.fail(ctx, project, task.ID, "MaxRetriesExceeded", fmt.Sprintf("unbounded task type exceeded hard retry ceiling %d", w.hardRetryCeiling))
			w.countIteration("hard_ceiling_exceeded")
			return
		}

		result, cancelled, err := w.attempt(ctx, project, task.ID, task.Type, retries, entry)
		if cancelled {
			w.countIteration("cancelled")
			return // task already CANCELLED via the cancel path; stop silently
		}
		if err == nil {
			if serr := w.store.SaveResult(ctx, project, &domain.TaskResult{TaskID: task.ID, Result: fmt.Sprint(result)}); serr != nil {
				w.log.Error().Err(serr).Str("task_id", task.ID).Msg("save result failed")
			}
			if _, perr := w.pub.PublishDone(ctx, project, task.ID); perr != nil {
				w.log.Error().Err(perr).Str("task_id", task.ID).Msg("publish done failed")
			}
			w.countIteration("done")
			return
		}

		if entry.IsRecoverable(err) {
			retries++
			taskErr := &domain.TaskError{Title: errorTitle(err), Detail: truncate(err.Error(), w.errDetailCap)}
			if _, perr := w.pub.PublishRetry(ctx, project, task.ID, retries, taskErr); perr != nil {
				w.log.Error().Err(perr).Str("task_id", task.ID).Msg("publish retry failed")
			}
			if w.metrics != nil {
				w.metrics.TaskRetries.WithLabelValues(w.ID).Inc()
			}
			continue
		}

		w.fail(ctx, project, task.ID, errorTitle(err), truncate(err.Error(), w.errDetailCap))
		w.countIteration("error")
		return
	}
}

// attempt runs one call to entry's function. The attempt context merges ctx
// (the pool's shutdown context) with an attempt-local cancellable context via
// joincontext, so either a SIGTERM-triggered shutdown or a progress-callback
// cancellation detection interrupts a cooperating task body
// (§5 "task bodies that never suspend cannot be cancelled mid-execution").
// A task-cancellation is tracked in its own flag rather than inferred from
// ctx.Err(), since both causes of cancellation look identical there.
func (w *Worker) attempt(ctx context.Context, project, taskID, taskType string, retries int, entry *registry.Entry) (result any, cancelled bool, err error) {
	if w.tracer != nil {
		var span trace.Span
		ctx, span = w.tracer.StartTaskAttempt(ctx, project, taskID, taskType, retries)
		defer span.End()
	}

	attemptCtx, attemptCancel := context.WithCancel(context.Background())
	defer attemptCancel()
	joined, joinedCancel := joincontext.Join(ctx, attemptCtx)
	defer joinedCancel()

	var taskCancelled atomic.Bool
	progress := func(p float64) {
		if _, perr := w.pub.PublishProgress(ctx, project, taskID, p); perr != nil {
			w.log.Error().Err(perr).Str("task_id", taskID).Msg("publish progress failed")
		}
		if w.isCancelled(ctx, project, taskID, false) {
			taskCancelled.Store(true)
			attemptCancel()
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result, cancelled, err = nil, false, fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()

	result, err = entry.Invoke(joined, mustInputs(ctx, w.store, project, taskID), progress)
	if taskCancelled.Load() {
		return nil, true, nil
	}
	return result, false, err
}

// mustInputs re-reads the task's inputs immediately before dispatch so a
// freshly-resolved (first-create) task always has its latest stored Inputs.
func mustInputs(ctx context.Context, s store.Store, project, taskID string) map[string]any {
	task, err := s.GetTask(ctx, project, taskID)
	if err != nil || task.Inputs == nil {
		return map[string]any{}
	}
	return task.Inputs
}

// isCancelled reports whether taskID is in the refreshed cancelled-id set
// for project. force bypasses the refresh-interval throttle (used once at
// dispatch time, right after lock acquisition).
func (w *Worker) isCancelled(ctx context.Context, project, taskID string, force bool) bool {
	w.mu.Lock()
	cache, ok := w.cancelled[project]
	if !ok {
		var err error
		cache, err = lru.New[string, struct{}](4096)
		if err != nil {
			w.mu.Unlock()
			return false
		}
		w.cancelled[project] = cache
	}
	last := w.lastRefresh[project]
	needsRefresh := force || time.Since(last) >= w.cancelRefresh
	w.mu.Unlock()

	if needsRefresh {
		ids, err := w.store.ListCancelledIDs(ctx, project)
		if err == nil {
			cache.Purge()
			for id := range ids {
				cache.Add(id, struct{}{})
			}
			w.mu.Lock()
			w.lastRefresh[project] = time.Now()
			w.mu.Unlock()
		}
	}
	return cache.Contains(taskID)
}

// fail persists a TaskError and transitions the task to ERROR.
func (w *Worker) fail(ctx context.Context, project, taskID, title, detail string) {
	taskErr := &domain.TaskError{Title: title, Detail: detail}
	if _, err := w.pub.PublishError(ctx, project, taskID, taskErr); err != nil {
		w.log.Error().Err(err).Str("task_id", taskID).Msg("publish error failed")
	}
}

func (w *Worker) countIteration(outcome string) {
	if w.metrics != nil {
		w.metrics.WorkerIterations.WithLabelValues(w.ID, outcome).Inc()
	}
}

// errorTitle extracts a short, stable label from err suitable for
// TaskError.Title (spec §8 scenario 3: title "ValueError" for a typed error).
func errorTitle(err error) string {
	return fmt.Sprintf("%T", err)
}

// truncate bounds s to a circbuf of size max, mirroring the bounded
// driver-output capture idiom used for task output in the teacher's broader
// lineage (hashicorp-nomad's client/driver plumbing) instead of storing
// unbounded panic/error text in TaskError.Detail.
func truncate(s string, max int64) string {
	buf, err := circbuf.NewBuffer(max)
	if err != nil {
		if int64(len(s)) > max {
			return s[:max]
		}
		return s
	}
	_, _ = buf.Write([]byte(s))
	return buf.String()
}
