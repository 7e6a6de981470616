// Package pool supervises a fixed-size fleet of worker child processes
// (§4.5): it spawns N copies of the current binary in "worker-child" mode,
// forwards shutdown signals to them, and runs a low-frequency orphan-lock
// reaper so operators can see (but not auto-repair) abandoned reservations.
package pool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/icij/taskworker/domain"
	"github.com/icij/taskworker/observability/metrics"
	"github.com/icij/taskworker/store"
)

const (
	defaultReaperSchedule = "*/5 * * * *" // every five minutes
	defaultOrphanAge      = 10 * time.Minute
)

// ChildArgsFunc builds the argv for the i'th child process. The returned
// slice is passed to exec.Command verbatim; it is expected to include
// "--worker-child" and whatever else cmd/taskworker needs to reconstruct its
// configuration in the child.
type ChildArgsFunc func(workerID string) []string

// Pool supervises N child worker processes.
type Pool struct {
	n          int
	binary     string
	childArgs  ChildArgsFunc
	restart    bool
	store      store.Store
	projects   []string
	metrics    *metrics.Collector
	log        zerolog.Logger
	reaperCron string
	orphanAge  time.Duration
}

// Option configures a Pool.
type Option func(*Pool)

// WithRestartOnExit makes the pool relaunch a child that exits, instead of
// the default fail-fast behavior (one child's death tears down the pool).
func WithRestartOnExit(restart bool) Option {
	return func(p *Pool) { p.restart = restart }
}

// WithMetrics attaches a metrics collector so the orphan reaper can report
// its sweep findings.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithReaperSchedule overrides the cron expression driving the orphan lock
// reaper sweep (default every five minutes).
func WithReaperSchedule(spec string) Option {
	return func(p *Pool) { p.reaperCron = spec }
}

// WithOrphanAge overrides the age (measured from the task's CreatedAt) past
// which a RUNNING task is reported as a possible orphan (default 10m).
func WithOrphanAge(d time.Duration) Option {
	return func(p *Pool) { p.orphanAge = d }
}

// New constructs a Pool that will launch n copies of binary, with argv for
// worker i produced by childArgs. projects lists the projects the orphan
// reaper should sweep; it may be empty if s is nil (reaper disabled).
func New(n int, binary string, childArgs ChildArgsFunc, s store.Store, projects []string, log zerolog.Logger, opts ...Option) *Pool {
	p := &Pool{
		n:          n,
		binary:     binary,
		childArgs:  childArgs,
		store:      s,
		projects:   projects,
		log:        log.With().Str("component", "pool").Logger(),
		reaperCron: defaultReaperSchedule,
		orphanAge:  defaultOrphanAge,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run spawns the pool's children and blocks until ctx is cancelled or a
// child exits unexpectedly under the fail-fast policy. On return it has
// sent SIGTERM to any still-running children and waited for them to exit.
func (p *Pool) Run(ctx context.Context) error {
	reaper := cron.New()
	if p.store != nil {
		if _, err := reaper.AddFunc(p.reaperCron, p.sweepOrphanLocks); err != nil {
			return fmt.Errorf("pool: schedule orphan reaper: %w", err)
		}
		reaper.Start()
		defer func() { <-reaper.Stop().Done() }()
	}

	childCtx, cancelChildren := context.WithCancel(context.Background())
	defer cancelChildren()

	exits := make(chan childExit, p.n)
	pid := os.Getpid()

	spawn := func(i int) {
		go func() {
			workerID := fmt.Sprintf("%d-%d", pid, i)
			exits <- childExit{index: i, workerID: workerID, err: p.runChild(childCtx, workerID)}
		}()
	}
	for i := 0; i < p.n; i++ {
		spawn(i)
	}

	live := p.n
	for live > 0 {
		select {
		case <-ctx.Done():
			cancelChildren()
			for live > 0 {
				<-exits
				live--
			}
			return nil
		case ex := <-exits:
			live--
			if ex.err != nil {
				p.log.Warn().Str("worker_id", ex.workerID).Err(ex.err).Msg("worker child exited")
			}
			if !p.restart {
				cancelChildren()
				for live > 0 {
					<-exits
					live--
				}
				if ex.err != nil {
					return fmt.Errorf("pool: worker %s exited: %w", ex.workerID, ex.err)
				}
				return fmt.Errorf("pool: worker %s exited unexpectedly", ex.workerID)
			}
			spawn(ex.index)
			live++
		}
	}
	return nil
}

type childExit struct {
	index    int
	workerID string
	err      error
}

// runChild execs one child, forwarding SIGTERM from ctx cancellation and
// leaving SIGINT to reach only the parent (children run in their own
// process group so a terminal Ctrl-C doesn't double-signal them).
func (p *Pool) runChild(ctx context.Context, workerID string) error {
	cmd := exec.Command(p.binary, p.childArgs(workerID)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	p.log.Info().Str("worker_id", workerID).Int("pid", cmd.Process.Pid).Msg("worker child started")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		return <-done
	case err := <-done:
		return err
	}
}

// sweepOrphanLocks is the cron-scheduled detection half of the orphan-lock
// reaper: it reports (via metrics) RUNNING tasks created longer than
// orphanAge ago, whose lock has plausibly outlived the worker holding it;
// it does not look at the lock rows or at progress, and performs no repair. The documented recovery path remains
// operator inspection, same as the migration coordinator's failed-step
// records — Store exposes no way to force-release a lock from outside the
// worker that holds it, by design.
func (p *Pool) sweepOrphanLocks() {
	ctx := context.Background()
	filter := domain.TaskFilter{Statuses: []domain.TaskStatus{domain.TaskRunning}}
	cutoff := time.Now().Add(-p.orphanAge)
	for _, project := range p.projects {
		running, err := p.store.ListTasks(ctx, project, filter)
		if err != nil {
			p.log.Error().Err(err).Str("project", project).Msg("orphan reaper: list tasks")
			continue
		}
		orphaned := 0
		for _, t := range running {
			if t.CreatedAt.Before(cutoff) {
				orphaned++
				p.log.Warn().Str("project", project).Str("task_id", t.ID).
					Time("created_at", t.CreatedAt).Msg("possible orphaned task lock")
			}
		}
		if p.metrics != nil {
			p.metrics.OrphanLocks.WithLabelValues(project).Set(float64(orphaned))
		}
	}
}
