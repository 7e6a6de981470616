// Package memory implements store.Store on top of hashicorp/go-memdb: an
// in-process, indexed, transactional store. It is the default store for
// tests and for the "no postgres_dsn" path of cmd/taskworker, mirroring the
// role internal/repository/mock played in the teacher repo — but backed by
// real secondary indices and atomic check-and-insert transactions instead of
// a bare map, since the spec's at-most-one-reservation and migration
// leader-election guarantees need more than a mutex-guarded map can give
// cheaply under concurrent writers.
package memory

import (
	"time"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableTask        = "task"
	tableTaskError   = "task_error"
	tableTaskResult  = "task_result"
	tableTaskLock    = "task_lock"
	tableMigration   = "migration"
	tableProject     = "project"
)

type taskRecord struct {
	Project     string
	ID          string
	Type        string
	Status      string
	CreatedAt   time.Time
	CompletedAt *time.Time
	Progress    *float64
	Retries     int
	InputsJSON  string
}

type taskErrorRecord struct {
	Project    string
	ID         string
	TaskID     string
	Title      string
	Detail     string
	OccurredAt time.Time
}

type taskResultRecord struct {
	Project string
	TaskID  string
	Result  string
}

type taskLockRecord struct {
	Project  string
	TaskID   string
	WorkerID string
}

type migrationRecord struct {
	Project   string
	Version   string
	Label     string
	Status    string
	Started   time.Time
	Completed *time.Time
}

type projectRecord struct {
	Name string
}

func newSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableTask: {
				Name: tableTask,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Project"},
							&memdb.StringFieldIndex{Field: "ID"},
						}},
					},
					"status": {
						Name: "status",
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Project"},
							&memdb.StringFieldIndex{Field: "Status"},
						}},
					},
					"project": {
						Name:    "project",
						Indexer: &memdb.StringFieldIndex{Field: "Project"},
					},
				},
			},
			tableTaskError: {
				Name: tableTaskError,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"task": {
						Name: "task",
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Project"},
							&memdb.StringFieldIndex{Field: "TaskID"},
						}},
					},
				},
			},
			tableTaskResult: {
				Name: tableTaskResult,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Project"},
							&memdb.StringFieldIndex{Field: "TaskID"},
						}},
					},
				},
			},
			tableTaskLock: {
				Name: tableTaskLock,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Project"},
							&memdb.StringFieldIndex{Field: "TaskID"},
						}},
					},
				},
			},
			tableMigration: {
				Name: tableMigration,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Project"},
							&memdb.StringFieldIndex{Field: "Version"},
						}},
					},
					"project": {
						Name:    "project",
						Indexer: &memdb.StringFieldIndex{Field: "Project"},
					},
				},
			},
			tableProject: {
				Name: tableProject,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
		},
	}
}
