package domain

// CanTransition reports whether moving from `from` to `to` is one of the
// allowed edges in §4.1:
//
//	CREATED  -> QUEUED
//	QUEUED   -> RUNNING | CANCELLED
//	RUNNING  -> QUEUED (retry) | DONE | ERROR | CANCELLED
//
// CANCELLED may preempt any non-terminal state regardless of `from`.
func CanTransition(from, to TaskStatus) bool {
	if to == TaskCancelled {
		return !from.IsTerminal()
	}
	switch from {
	case TaskCreated:
		return to == TaskQueued
	case TaskQueued:
		return to == TaskRunning
	case TaskRunning:
		return to == TaskQueued || to == TaskDone || to == TaskErrored
	default:
		return false
	}
}

// ResolveStatus applies the precedence/retry rules of §4.1 to decide the new
// status of a task currently at `stored` (with `storedRetries` attempts)
// given an incoming event carrying `incoming` status and `incomingRetries`.
// It returns the resolved status and whether it differs from `stored`.
//
// Rules:
//   - If stored is terminal, the status is frozen (errors still append, but
//     that happens in the publisher, not here).
//   - An incoming status of lower or equal rank never overrides the stored
//     one except via the retry special-case below.
//   - incoming == QUEUED while stored == RUNNING means "a retry is
//     starting" iff incomingRetries strictly exceeds storedRetries;
//     otherwise it's a delayed duplicate and is ignored.
//   - Among terminal statuses, first-to-arrive wins.
func ResolveStatus(stored TaskStatus, storedRetries int, incoming TaskStatus, incomingRetries int) (TaskStatus, bool) {
	if stored.IsTerminal() {
		return stored, false
	}
	if incoming == "" {
		return stored, false
	}
	if incoming == TaskCancelled {
		return TaskCancelled, true
	}
	if stored == TaskRunning && incoming == TaskQueued {
		if incomingRetries > storedRetries {
			return TaskQueued, true
		}
		return stored, false
	}
	if incoming.rank() <= stored.rank() {
		return stored, false
	}
	return incoming, true
}
