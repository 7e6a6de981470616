// Package postgres provides a GORM-backed implementation of store.Store for
// production deployments, following the conversion idiom of the teacher
// repo's internal/repository/postgres package: a *gorm.DB injected via the
// constructor, package-private <foo>Model structs with toDomain/fromDomain
// converters, and gorm struct tags carrying the column-level constraints that
// back the spec's uniqueness guarantees (§4.4, §4.7).
package postgres

import (
	"time"

	"github.com/icij/taskworker/domain"
)

type taskModel struct {
	Project     string     `gorm:"column:project;primaryKey"`
	ID          string     `gorm:"column:id;primaryKey"`
	Type        string     `gorm:"column:type;not null;index"`
	Status      string     `gorm:"column:status;not null;index"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;index"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	Progress    *float64   `gorm:"column:progress"`
	Retries     int        `gorm:"column:retries;not null;default:0"`
	InputsJSON  string     `gorm:"column:inputs_json;not null;default:'{}'"`
}

func (taskModel) TableName() string { return "tasks" }

func taskFromDomain(project string, t *domain.Task, inputsJSON string) *taskModel {
	return &taskModel{
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

func (m *taskModel) toDomain() (*domain.Task, error) {
	inputs, err := domain.ParseInputsJSON(m.InputsJSON)
	if err != nil {
		return nil, err
	}
	return &domain.Task{
		ID:          m.ID,
		Type:        m.Type,
		Project:     m.Project,
		Status:      domain.TaskStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
		Progress:    m.Progress,
		Retries:     m.Retries,
		Inputs:      inputs,
	}, nil
}

type taskErrorModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Project    string    `gorm:"column:project;not null;index:idx_task_errors_task"`
	TaskID     string    `gorm:"column:task_id;not null;index:idx_task_errors_task"`
	Title      string    `gorm:"column:title;not null"`
	Detail     string    `gorm:"column:detail;not null;default:''"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null;index"`
}

func (taskErrorModel) TableName() string { return "task_errors" }

func taskErrorFromDomain(project, taskID string, e *domain.TaskError) *taskErrorModel {
	return &taskErrorModel{
		ID:         e.ID,
		Project:    project,
		TaskID:     taskID,
		Title:      e.Title,
		Detail:     e.Detail,
		OccurredAt: e.OccurredAt,
	}
}

func (m *taskErrorModel) toDomain() *domain.TaskError {
	return &domain.TaskError{
		ID:         m.ID,
		TaskID:     m.TaskID,
		Title:      m.Title,
		Detail:     m.Detail,
		OccurredAt: m.OccurredAt,
	}
}

type taskResultModel struct {
	Project string `gorm:"column:project;primaryKey"`
	TaskID  string `gorm:"column:task_id;primaryKey"`
	Result  string `gorm:"column:result;not null;default:''"`
}

func (taskResultModel) TableName() string { return "task_results" }

type taskLockModel struct {
	Project  string `gorm:"column:project;primaryKey"`
	TaskID   string `gorm:"column:task_id;primaryKey"`
	WorkerID string `gorm:"column:worker_id;not null"`
}

func (taskLockModel) TableName() string { return "task_locks" }

// migrationModel carries the (project, version) uniqueness constraint that
// implements the migration coordinator's leader election (§4.7): a second
// INSERT for a project/version already claimed fails the unique index and is
// surfaced to the caller as domain.ErrMigrationConflict.
type migrationModel struct {
	Project   string     `gorm:"column:project;primaryKey"`
	Version   string     `gorm:"column:version;primaryKey"`
	Label     string     `gorm:"column:label;not null;default:''"`
	Status    string     `gorm:"column:status;not null"`
	Started   time.Time  `gorm:"column:started_at;not null"`
	Completed *time.Time `gorm:"column:completed_at"`
}

func (migrationModel) TableName() string { return "migrations" }

func migrationFromDomain(rec domain.MigrationRecord) *migrationModel {
	return &migrationModel{
		Project: rec.Project, Version: rec.Version, Label: rec.Label,
		Status: string(rec.Status), Started: rec.Started, Completed: rec.Completed,
	}
}

func (m *migrationModel) toDomain() domain.MigrationRecord {
	return domain.MigrationRecord{
		Project: m.Project, Version: m.Version, Label: m.Label,
		Status: domain.MigrationStatus(m.Status), Started: m.Started, Completed: m.Completed,
	}
}

type projectModel struct {
	Name string `gorm:"column:name;primaryKey"`
}

func (projectModel) TableName() string { return "projects" }

// AllModels lists every model for AutoMigrate.
func AllModels() []any {
	return []any{
		&projectModel{},
		&taskModel{},
		&taskErrorModel{},
		&taskResultModel{},
		&taskLockModel{},
		&migrationModel{},
	}
}
