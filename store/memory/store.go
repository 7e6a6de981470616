package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/rs/xid"

	"github.com/icij/taskworker/domain"
)

// Store is an in-process, indexed implementation of store.Store.
type Store struct {
	db *memdb.MemDB
}

// New returns an empty Store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(newSchema())
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) EnsureProject(_ context.Context, project string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tableProject, "id", project)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := txn.Insert(tableProject, &projectRecord{Name: project}); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

func (s *Store) CreateTask(_ context.Context, project string, task *domain.Task) error {
	inputsJSON, err := task.InputsJSON()
	if err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tableTask, "id", project, task.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s/%s", domain.ErrTaskAlreadyExists, project, task.ID)
	}
	rec := taskFromDomain(project, task, inputsJSON)
	if err := txn.Insert(tableTask, rec); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) GetTask(_ context.Context, project, id string) (*domain.Task, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(tableTask, "id", project, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownTask, project, id)
	}
	return taskToDomain(raw.(*taskRecord))
}

func (s *Store) ListTasks(_ context.Context, project string, filter domain.TaskFilter) ([]*domain.Task, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tableTask, "project", project)
	if err != nil {
		return nil, err
	}
	var out []*domain.Task
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*taskRecord)
		t, err := taskToDomain(rec)
		if err != nil {
			return nil, err
		}
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountByStatus(_ context.Context, project string, status domain.TaskStatus) (int, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tableTask, "status", project, string(status))
	if err != nil {
		return 0, err
	}
	n := 0
	for raw := it.Next(); raw != nil; raw = it.Next() {
		n++
	}
	return n, nil
}

func (s *Store) ApplyEvent(_ context.Context, project string, ev domain.TaskEvent) (*domain.Task, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableTask, "id", project, ev.TaskID)
	if err != nil {
		return nil, err
	}
	var rec *taskRecord
	if raw == nil {
		// First sighting of this task id: create it from the event's
		// mandatory fields, per §4.3 step 1.
		if ev.Type == nil || ev.CreatedAt == nil {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownTask, project, ev.TaskID)
		}
		rec = &taskRecord{
			Project:   project,
			ID:        ev.TaskID,
			Type:      *ev.Type,
			Status:    string(domain.TaskCreated),
			CreatedAt: *ev.CreatedAt,
		}
	} else {
		cp := *raw.(*taskRecord)
		rec = &cp
	}

	storedStatus := domain.TaskStatus(rec.Status)
	if ev.Status != nil {
		incomingRetries := rec.Retries
		if ev.Retries != nil {
			incomingRetries = *ev.Retries
		}
		resolved, changed := domain.ResolveStatus(storedStatus, rec.Retries, *ev.Status, incomingRetries)
		if changed {
			rec.Status = string(resolved)
			if resolved.IsTerminal() && ev.CompletedAt != nil {
				ca := *ev.CompletedAt
				rec.CompletedAt = &ca
			}
		}
	}
	if !storedStatus.IsTerminal() {
		if ev.Progress != nil {
			p := *ev.Progress
			rec.Progress = &p
		}
		if ev.Retries != nil {
			rec.Retries = *ev.Retries
		}
	}

	if err := txn.Insert(tableTask, rec); err != nil {
		return nil, err
	}

	if ev.Error != nil {
		errRec := &taskErrorRecord{
			Project:    project,
			ID:         ev.Error.ID,
			TaskID:     ev.TaskID,
			Title:      ev.Error.Title,
			Detail:     ev.Error.Detail,
			OccurredAt: ev.Error.OccurredAt,
		}
		if errRec.ID == "" {
			errRec.ID = xid.New().String()
		}
		if err := txn.Insert(tableTaskError, errRec); err != nil {
			return nil, err
		}
	}

	txn.Commit()
	return taskToDomain(rec)
}

func (s *Store) GetTaskErrors(_ context.Context, project, taskID string) ([]*domain.TaskError, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tableTaskError, "task", project, taskID)
	if err != nil {
		return nil, err
	}
	var out []*domain.TaskError
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*taskErrorRecord)
		out = append(out, &domain.TaskError{
			ID: rec.ID, TaskID: rec.TaskID, Title: rec.Title, Detail: rec.Detail, OccurredAt: rec.OccurredAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (s *Store) SaveResult(_ context.Context, project string, result *domain.TaskResult) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tableTaskResult, "id", project, result.TaskID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("result already recorded for task %s/%s", project, result.TaskID)
	}
	if err := txn.Insert(tableTaskResult, &taskResultRecord{Project: project, TaskID: result.TaskID, Result: result.Result}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) GetTaskResult(_ context.Context, project, taskID string) (*domain.TaskResult, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(tableTaskResult, "id", project, taskID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrMissingTaskResult, project, taskID)
	}
	rec := raw.(*taskResultRecord)
	return &domain.TaskResult{TaskID: rec.TaskID, Result: rec.Result}, nil
}

func (s *Store) CancelTask(_ context.Context, project, taskID string) (*domain.Task, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableTask, "id", project, taskID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownTask, project, taskID)
	}
	cp := *raw.(*taskRecord)
	status := domain.TaskStatus(cp.Status)
	if !status.IsTerminal() {
		cp.Status = string(domain.TaskCancelled)
		now := time.Now().UTC()
		cp.CompletedAt = &now
	}
	if err := txn.Insert(tableTask, &cp); err != nil {
		return nil, err
	}
	txn.Commit()
	return taskToDomain(&cp)
}

func (s *Store) ListCancelledIDs(_ context.Context, project string) (map[string]struct{}, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tableTask, "status", project, string(domain.TaskCancelled))
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out[raw.(*taskRecord).ID] = struct{}{}
	}
	return out, nil
}

func (s *Store) DequeueCandidate(_ context.Context, projects []string) (*domain.Task, string, error) {
	txn := s.db.Txn(false)
	type candidate struct {
		rec     *taskRecord
		project string
	}
	var all []candidate
	for _, p := range projects {
		it, err := txn.Get(tableTask, "status", p, string(domain.TaskQueued))
		if err != nil {
			return nil, "", err
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			all = append(all, candidate{rec: raw.(*taskRecord), project: p})
		}
	}
	if len(all) == 0 {
		return nil, "", nil
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].rec.CreatedAt.Equal(all[j].rec.CreatedAt) {
			return all[i].rec.CreatedAt.Before(all[j].rec.CreatedAt)
		}
		return all[i].rec.ID < all[j].rec.ID
	})
	best := all[0]
	t, err := taskToDomain(best.rec)
	if err != nil {
		return nil, "", err
	}
	return t, best.project, nil
}

func (s *Store) AcquireLock(_ context.Context, project, taskID, workerID string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tableTaskLock, "id", project, taskID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s/%s", domain.ErrTaskAlreadyReserved, project, taskID)
	}
	if err := txn.Insert(tableTaskLock, &taskLockRecord{Project: project, TaskID: taskID, WorkerID: workerID}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) ReleaseLock(_ context.Context, project, taskID string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableTaskLock, "id", project, taskID)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	if err := txn.Delete(tableTaskLock, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) ListMigrations(_ context.Context, project string) ([]domain.MigrationRecord, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tableMigration, "project", project)
	if err != nil {
		return nil, err
	}
	var out []domain.MigrationRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*migrationRecord)
		out = append(out, migrationToDomain(rec))
	}
	return out, nil
}

func (s *Store) AcquireMigration(_ context.Context, rec domain.MigrationRecord) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tableMigration, "id", rec.Project, rec.Version)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s/%s", domain.ErrMigrationConflict, rec.Project, rec.Version)
	}
	if err := txn.Insert(tableMigration, migrationFromDomain(rec)); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) CompleteMigration(_ context.Context, project, version string, completedAt time.Time) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableMigration, "id", project, version)
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("migration not found: %s/%s", project, version)
	}
	cp := *raw.(*migrationRecord)
	cp.Status = string(domain.MigrationDone)
	ca := completedAt
	cp.Completed = &ca
	if err := txn.Insert(tableMigration, &cp); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) WipeMigrations(_ context.Context, project string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	it, err := txn.Get(tableMigration, "project", project)
	if err != nil {
		return err
	}
	var toDelete []any
	for raw := it.Next(); raw != nil; raw = it.Next() {
		toDelete = append(toDelete, raw)
	}
	for _, raw := range toDelete {
		if err := txn.Delete(tableMigration, raw); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

func taskFromDomain(project string, t *domain.Task, inputsJSON string) *taskRecord {
	return &taskRecord{
		Project:     project,
		ID:          t.ID,
		Type:        t.Type,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
		Progress:    t.Progress,
		Retries:     t.Retries,
		InputsJSON:  inputsJSON,
	}
}

func taskToDomain(rec *taskRecord) (*domain.Task, error) {
	inputs, err := domain.ParseInputsJSON(rec.InputsJSON)
	if err != nil {
		return nil, err
	}
	return &domain.Task{
		ID:          rec.ID,
		Type:        rec.Type,
		Project:     rec.Project,
		Status:      domain.TaskStatus(rec.Status),
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
		Progress:    rec.Progress,
		Retries:     rec.Retries,
		Inputs:      inputs,
	}, nil
}

func migrationFromDomain(m domain.MigrationRecord) *migrationRecord {
	return &migrationRecord{
		Project: m.Project, Version: m.Version, Label: m.Label,
		Status: string(m.Status), Started: m.Started, Completed: m.Completed,
	}
}

func migrationToDomain(rec *migrationRecord) domain.MigrationRecord {
	return domain.MigrationRecord{
		Project: rec.Project, Version: rec.Version, Label: rec.Label,
		Status: domain.MigrationStatus(rec.Status), Started: rec.Started, Completed: rec.Completed,
	}
}
