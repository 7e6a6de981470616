// Package store defines the persistence contract for the task execution
// system (component A — §2, §6). Concrete realizations live in the
// store/memory (indexed in-process store, used for tests and small
// deployments) and store/postgres (gorm-backed, production) sub-packages.
//
// Every write that must be atomic per §4.3/§4.4/§4.7 is documented as such;
// implementations are expected to use a single transaction for it.
package store

import (
	"context"
	"time"

	"github.com/icij/taskworker/domain"
)

// Store is the full persistence surface used by taskmanager, publisher,
// worker, and migration.
type Store interface {
	// EnsureProject creates the named project partition if it does not
	// already exist. Idempotent.
	EnsureProject(ctx context.Context, project string) error

	// CreateTask persists a brand-new task. Returns domain.ErrTaskAlreadyExists
	// if project+id collides with an existing task.
	CreateTask(ctx context.Context, project string, task *domain.Task) error

	// GetTask returns domain.ErrUnknownTask if no such task exists.
	GetTask(ctx context.Context, project, id string) (*domain.Task, error)

	// ListTasks returns all tasks in project matching filter.
	ListTasks(ctx context.Context, project string, filter domain.TaskFilter) ([]*domain.Task, error)

	// CountByStatus returns the number of tasks in project currently in
	// status s — used by taskmanager to enforce max_queue_size against
	// TaskQueued.
	CountByStatus(ctx context.Context, project string, s domain.TaskStatus) (int, error)

	// ApplyEvent performs the full §4.3 resolution-and-merge algorithm
	// against the stored task atomically: creates the task node on first
	// sight (copying Type/CreatedAt), resolves Status per
	// domain.ResolveStatus, overwrites Progress/Retries (unless the stored
	// status is terminal), appends a TaskError
	// if ev.Error is set (even when the status update was a no-op), and
	// returns the resulting stored task. Returns domain.ErrUnknownTask only
	// if the task cannot be located or created.
	ApplyEvent(ctx context.Context, project string, ev domain.TaskEvent) (*domain.Task, error)

	// GetTaskErrors returns all recorded errors for a task, oldest first.
	GetTaskErrors(ctx context.Context, project, taskID string) ([]*domain.TaskError, error)

	// SaveResult writes the (write-once) result of a DONE task. Returns an
	// error if a result already exists for taskID.
	SaveResult(ctx context.Context, project string, result *domain.TaskResult) error

	// GetTaskResult returns domain.ErrMissingTaskResult if none stored.
	GetTaskResult(ctx context.Context, project, taskID string) (*domain.TaskResult, error)

	// CancelTask forces the task to CANCELLED regardless of its current
	// non-terminal status (idempotent if already CANCELLED). Returns
	// domain.ErrUnknownTask if no such task exists.
	CancelTask(ctx context.Context, project, taskID string) (*domain.Task, error)

	// ListCancelledIDs returns the set of task IDs currently CANCELLED in
	// project, consulted by the worker's progress-callback cancellation
	// check (§4.4 step 6).
	ListCancelledIDs(ctx context.Context, project string) (map[string]struct{}, error)

	// DequeueCandidate returns the oldest (by CreatedAt, ties broken by ID)
	// QUEUED task across the given projects, or (nil, "", nil) if none is
	// available. It does not reserve the task — callers must still call
	// AcquireLock.
	DequeueCandidate(ctx context.Context, projects []string) (*domain.Task, string, error)

	// AcquireLock atomically reserves taskID for workerID. Returns
	// domain.ErrTaskAlreadyReserved if another worker already holds the
	// lock — the store's uniqueness constraint on TaskID is the
	// at-most-once-reservation primitive (§5).
	AcquireLock(ctx context.Context, project, taskID, workerID string) error

	// ReleaseLock clears a lock previously acquired by AcquireLock.
	ReleaseLock(ctx context.Context, project, taskID string) error

	// ListMigrations returns all migration records for project.
	ListMigrations(ctx context.Context, project string) ([]domain.MigrationRecord, error)

	// AcquireMigration attempts to write rec as the next IN_PROGRESS
	// migration. Returns domain.ErrMigrationConflict if a record for
	// (rec.Project, rec.Version) already exists — the
	// (Migration.project, Migration.version) uniqueness constraint is the
	// migration coordinator's entire leader-election primitive (§4.7).
	AcquireMigration(ctx context.Context, rec domain.MigrationRecord) error

	// CompleteMigration marks an IN_PROGRESS migration DONE.
	CompleteMigration(ctx context.Context, project, version string, completedAt time.Time) error

	// WipeMigrations deletes all migration records for project — used when
	// force_migrations is set.
	WipeMigrations(ctx context.Context, project string) error
}
