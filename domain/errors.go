package domain

import "errors"

// Sentinel errors per spec §7. Wrap with fmt.Errorf("%w: ...") to add detail
// while keeping errors.Is/As working for callers.
var (
	ErrUnknownTask         = errors.New("unknown task")
	ErrTaskAlreadyExists   = errors.New("task already exists")
	ErrTaskQueueIsFull     = errors.New("task queue is full")
	ErrTaskAlreadyReserved = errors.New("task already reserved")
	ErrTaskCancelled       = errors.New("task cancelled")
	ErrUnregisteredTask    = errors.New("unregistered task type")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
	ErrMissingTaskResult   = errors.New("missing task result")
	ErrMigrationError      = errors.New("migration error")
	ErrMigrationConflict   = errors.New("migration already acquired")
)
