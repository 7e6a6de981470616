package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/xid"
	"gorm.io/gorm"

	"github.com/icij/taskworker/domain"
)

// Store is a GORM-backed implementation of store.Store, opened with
// TranslateError so database-level unique-constraint violations surface as
// gorm.ErrDuplicatedKey — the mechanism this store relies on for the
// at-most-one-reservation (§4.4/§5) and migration leader-election (§4.7)
// guarantees, instead of an application-side check-then-act race.
type Store struct {
	db *gorm.DB
}

// New wraps an already-opened *gorm.DB (expected to have been opened with
// TranslateError: true) and runs AutoMigrate over every model.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("postgres store: automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) EnsureProject(ctx context.Context, project string) error {
	err := s.db.WithContext(ctx).Clauses().Where(projectModel{Name: project}).
		FirstOrCreate(&projectModel{Name: project}).Error
	return err
}

func (s *Store) CreateTask(ctx context.Context, project string, task *domain.Task) error {
	inputsJSON, err := task.InputsJSON()
	if err != nil {
		return err
	}
	m := taskFromDomain(project, task, inputsJSON)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s/%s", domain.ErrTaskAlreadyExists, project, task.ID)
		}
		return err
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, project, id string) (*domain.Task, error) {
	var m taskModel
	err := s.db.WithContext(ctx).Where("project = ? AND id = ?", project, id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownTask, project, id)
	}
	if err != nil {
		return nil, err
	}
	return m.toDomain()
}

func (s *Store) ListTasks(ctx context.Context, project string, filter domain.TaskFilter) ([]*domain.Task, error) {
	q := s.db.WithContext(ctx).Where("project = ?", project)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.Type != "" {
		q = q.Where("type ILIKE ?", "%"+filter.Type+"%")
	}
	var models []taskModel
	if err := q.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Task, len(models))
	for i := range models {
		t, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (s *Store) CountByStatus(ctx context.Context, project string, status domain.TaskStatus) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&taskModel{}).
		Where("project = ? AND status = ?", project, string(status)).
		Count(&n).Error
	return int(n), err
}

func (s *Store) ApplyEvent(ctx context.Context, project string, ev domain.TaskEvent) (*domain.Task, error) {
	var resolved *domain.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m taskModel
		err := tx.Where("project = ? AND id = ?", project, ev.TaskID).First(&m).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if ev.Type == nil || ev.CreatedAt == nil {
				return fmt.Errorf("%w: %s/%s", domain.ErrUnknownTask, project, ev.TaskID)
			}
			m = taskModel{
				Project: project, ID: ev.TaskID, Type: *ev.Type,
				Status: string(domain.TaskCreated), CreatedAt: *ev.CreatedAt,
				InputsJSON: "{}",
			}
		case err != nil:
			return err
		}

		storedStatus := domain.TaskStatus(m.Status)
		if ev.Status != nil {
			incomingRetries := m.Retries
			if ev.Retries != nil {
				incomingRetries = *ev.Retries
			}
			resolvedStatus, changed := domain.ResolveStatus(storedStatus, m.Retries, *ev.Status, incomingRetries)
			if changed {
				m.Status = string(resolvedStatus)
				if resolvedStatus.IsTerminal() && ev.CompletedAt != nil {
					ca := *ev.CompletedAt
					m.CompletedAt = &ca
				}
			}
		}
		if !storedStatus.IsTerminal() {
			if ev.Progress != nil {
				p := *ev.Progress
				m.Progress = &p
			}
			if ev.Retries != nil {
				m.Retries = *ev.Retries
			}
		}

		if err := tx.Save(&m).Error; err != nil {
			return err
		}

		if ev.Error != nil {
			errRec := *ev.Error
			if errRec.ID == "" {
				errRec.ID = xid.New().String()
			}
			if err := tx.Create(taskErrorFromDomain(project, ev.TaskID, &errRec)).Error; err != nil {
				return err
			}
		}

		t, err := m.toDomain()
		if err != nil {
			return err
		}
		resolved = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (s *Store) GetTaskErrors(ctx context.Context, project, taskID string) ([]*domain.TaskError, error) {
	var models []taskErrorModel
	if err := s.db.WithContext(ctx).
		Where("project = ? AND task_id = ?", project, taskID).
		Order("occurred_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.TaskError, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

func (s *Store) SaveResult(ctx context.Context, project string, result *domain.TaskResult) error {
	m := &taskResultModel{Project: project, TaskID: result.TaskID, Result: result.Result}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("result already recorded for task %s/%s", project, result.TaskID)
		}
		return err
	}
	return nil
}

func (s *Store) GetTaskResult(ctx context.Context, project, taskID string) (*domain.TaskResult, error) {
	var m taskResultModel
	err := s.db.WithContext(ctx).Where("project = ? AND task_id = ?", project, taskID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrMissingTaskResult, project, taskID)
	}
	if err != nil {
		return nil, err
	}
	return &domain.TaskResult{TaskID: m.TaskID, Result: m.Result}, nil
}

func (s *Store) CancelTask(ctx context.Context, project, taskID string) (*domain.Task, error) {
	var resolved *domain.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m taskModel
		if err := tx.Where("project = ? AND id = ?", project, taskID).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s/%s", domain.ErrUnknownTask, project, taskID)
			}
			return err
		}
		if !domain.TaskStatus(m.Status).IsTerminal() {
			m.Status = string(domain.TaskCancelled)
			now := time.Now().UTC()
			m.CompletedAt = &now
			if err := tx.Save(&m).Error; err != nil {
				return err
			}
		}
		t, err := m.toDomain()
		if err != nil {
			return err
		}
		resolved = t
		return nil
	})
	return resolved, err
}

func (s *Store) ListCancelledIDs(ctx context.Context, project string) (map[string]struct{}, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&taskModel{}).
		Where("project = ? AND status = ?", project, string(domain.TaskCancelled)).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *Store) DequeueCandidate(ctx context.Context, projects []string) (*domain.Task, string, error) {
	var m taskModel
	err := s.db.WithContext(ctx).
		Where("project IN ? AND status = ?", projects, string(domain.TaskQueued)).
		Order("created_at ASC, id ASC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	t, err := m.toDomain()
	if err != nil {
		return nil, "", err
	}
	return t, m.Project, nil
}

func (s *Store) AcquireLock(ctx context.Context, project, taskID, workerID string) error {
	m := &taskLockModel{Project: project, TaskID: taskID, WorkerID: workerID}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s/%s", domain.ErrTaskAlreadyReserved, project, taskID)
		}
		return err
	}
	return nil
}

func (s *Store) ReleaseLock(ctx context.Context, project, taskID string) error {
	return s.db.WithContext(ctx).
		Where("project = ? AND task_id = ?", project, taskID).
		Delete(&taskLockModel{}).Error
}

func (s *Store) ListMigrations(ctx context.Context, project string) ([]domain.MigrationRecord, error) {
	var models []migrationModel
	if err := s.db.WithContext(ctx).Where("project = ?", project).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.MigrationRecord, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out, nil
}

func (s *Store) AcquireMigration(ctx context.Context, rec domain.MigrationRecord) error {
	m := migrationFromDomain(rec)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s/%s", domain.ErrMigrationConflict, rec.Project, rec.Version)
		}
		return err
	}
	return nil
}

func (s *Store) CompleteMigration(ctx context.Context, project, version string, completedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&migrationModel{}).
		Where("project = ? AND version = ?", project, version).
		Updates(map[string]any{"status": string(domain.MigrationDone), "completed_at": completedAt})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("migration not found: %s/%s", project, version)
	}
	return nil
}

func (s *Store) WipeMigrations(ctx context.Context, project string) error {
	return s.db.WithContext(ctx).Where("project = ?", project).Delete(&migrationModel{}).Error
}
