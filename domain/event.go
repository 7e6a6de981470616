package domain

import "time"

// TaskEvent is an in-flight partial update to a Task. It is never persisted
// as such — EventPublisher merges it into the stored Task per the resolution
// rules in transitions.go and §4.3. Pointer/zero-value fields distinguish
// "unset" from "set to the zero value".
type TaskEvent struct {
	TaskID      string
	Type        *string // task type, frozen after first create
	CreatedAt   *time.Time
	CompletedAt *time.Time
	Status      *TaskStatus
	Progress    *float64
	Retries     *int
	Error       *TaskError
}

// MigrationStatus is the lifecycle of one migration record.
type MigrationStatus string

const (
	MigrationInProgress MigrationStatus = "IN_PROGRESS"
	MigrationDone       MigrationStatus = "DONE"
)

// MigrationRecord is the per-project, per-version lock-and-ledger row whose
// (Project, Version) uniqueness constraint is the migration coordinator's
// entire mutual-exclusion primitive (§4.7).
type MigrationRecord struct {
	Project   string
	Version   string
	Label     string
	Status    MigrationStatus
	Started   time.Time
	Completed *time.Time
}

// TaskLock reserves a task for exactly one worker. Its uniqueness constraint
// on TaskID is the "at most one reservation" primitive of §4.4/§5.
type TaskLock struct {
	TaskID   string
	WorkerID string
}
