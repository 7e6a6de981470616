// Package metrics exposes Prometheus metrics for the task execution system.
// Collectors are registered here via promauto; call New() once during
// application startup and pass the Collector down to the components that
// report into it.
//
// Exposed metrics:
//
//	taskworker_tasks_total                 – total tasks transitioned, by terminal status
//	taskworker_task_duration_seconds       – task execution duration histogram
//	taskworker_task_retries_total          – total task retry attempts (labels: worker_id)
//	taskworker_queue_depth                 – current QUEUED task count (labels: project)
//	taskworker_worker_iterations_total     – total work_once iterations (labels: worker_id, outcome)
//	taskworker_orphan_locks                – locks whose task is RUNNING past the reaper's staleness threshold (labels: project)
//	taskworker_migrations_total            – total migrations completed (labels: project, status)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups every Prometheus metric exposed by the system.
type Collector struct {
	TasksTotal       *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	TaskRetries      *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	WorkerIterations *prometheus.CounterVec
	OrphanLocks      *prometheus.GaugeVec
	MigrationsTotal  *prometheus.CounterVec
}

// New registers and returns all taskworker Prometheus metrics using promauto
// so each metric is automatically added to the default registry.
func New() *Collector {
	return &Collector{
		TasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taskworker_tasks_total",
			Help: "Total number of tasks reaching a terminal status.",
		}, []string{"status"}),

		TaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskworker_task_duration_seconds",
			Help:    "Histogram of task execution durations in seconds, from RUNNING to a terminal status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),

		TaskRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taskworker_task_retries_total",
			Help: "Total number of task retry attempts.",
		}, []string{"worker_id"}),

		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskworker_queue_depth",
			Help: "Current number of QUEUED tasks.",
		}, []string{"project"}),

		WorkerIterations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taskworker_worker_iterations_total",
			Help: "Total work_once iterations, by outcome.",
		}, []string{"worker_id", "outcome"}),

		OrphanLocks: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskworker_orphan_locks",
			Help: "Task locks observed whose task has been RUNNING past the reaper's staleness threshold.",
		}, []string{"project"}),

		MigrationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taskworker_migrations_total",
			Help: "Total migrations completed, by outcome.",
		}, []string{"project", "status"}),
	}
}
