// Package migration implements the migration coordinator (§4.7): a
// leader-election loop over the store's uniqueness constraint on
// (project, version), so that of many workers racing to migrate the same
// project at startup, exactly one runs each migration step.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/icij/taskworker/domain"
	"github.com/icij/taskworker/store"
)

// Func runs one migration step against the project's store, inside the
// transaction boundary the Store implementation provides for it.
type Func func(ctx context.Context, project string) error

// Step is one entry in the migration registry: a version, a human label,
// and the function that realizes it.
type Step struct {
	Version string
	Label   string
	Fn      Func
}

const (
	defaultTimeout  = 300 * time.Second
	defaultThrottle = time.Second
)

// Coordinator runs the registered Steps against a store.Store.
type Coordinator struct {
	store    store.Store
	steps    []Step
	timeout  time.Duration
	throttle time.Duration
	log      zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the deadline for completing all migrations for one
// project (spec §6 migration_timeout_s, default 300s).
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithThrottle sets the backoff between migration attempts while another
// worker holds the IN_PROGRESS record (spec §6 migration_throttle_s, default 1s).
func WithThrottle(d time.Duration) Option {
	return func(c *Coordinator) { c.throttle = d }
}

// New constructs a Coordinator. steps need not be pre-sorted; Migrate sorts
// them ascending by Version (§4.7 step 1).
func New(s store.Store, steps []Step, log zerolog.Logger, opts ...Option) *Coordinator {
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	c := &Coordinator{
		store:    s,
		steps:    sorted,
		timeout:  defaultTimeout,
		throttle: defaultThrottle,
		log:      log.With().Str("component", "migration").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Migrate runs the algorithm of §4.7 to completion for project, or returns
// domain.ErrMigrationError on timeout or inconsistent state. If
// forceMigrations is set, all prior records for project are wiped first
// (spec §6 force_migrations).
func (c *Coordinator) Migrate(ctx context.Context, project string, forceMigrations bool) error {
	if forceMigrations {
		if err := c.store.WipeMigrations(ctx, project); err != nil {
			return fmt.Errorf("migrate %s: wipe: %w", project, err)
		}
	}

	deadline := time.Now().Add(c.timeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: project %s exceeded timeout %s", domain.ErrMigrationError, project, c.timeout)
		}

		records, err := c.store.ListMigrations(ctx, project)
		if err != nil {
			return fmt.Errorf("migrate %s: list: %w", project, err)
		}

		inProgress := 0
		doneVersions := make(map[string]struct{}, len(records))
		for _, r := range records {
			switch r.Status {
			case domain.MigrationInProgress:
				inProgress++
			case domain.MigrationDone:
				doneVersions[r.Version] = struct{}{}
			}
		}
		if inProgress > 1 {
			return fmt.Errorf("%w: project %s has %d IN_PROGRESS migrations", domain.ErrMigrationError, project, inProgress)
		}
		if inProgress == 1 {
			if err := sleepOrDone(ctx, c.throttle); err != nil {
				return err
			}
			continue
		}

		next, ok := c.nextStep(doneVersions)
		if !ok {
			c.log.Info().Str("project", project).Msg("all migrations applied")
			return nil
		}

		rec := domain.MigrationRecord{
			Project: project, Version: next.Version, Label: next.Label,
			Status: domain.MigrationInProgress, Started: time.Now().UTC(),
		}
		if err := c.store.AcquireMigration(ctx, rec); err != nil {
			if errors.Is(err, domain.ErrMigrationConflict) {
				if err := sleepOrDone(ctx, c.throttle); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("migrate %s: acquire %s: %w", project, next.Version, err)
		}

		c.log.Info().Str("project", project).Str("version", next.Version).Msg("running migration")
		if err := next.Fn(ctx, project); err != nil {
			// The record stays IN_PROGRESS: the documented recovery
			// procedure is operator inspection and repair (§4.7 Failure
			// semantics), not automatic rollback or retry.
			return fmt.Errorf("migrate %s: step %s failed, record left IN_PROGRESS for operator repair: %w", project, next.Version, err)
		}
		if err := c.store.CompleteMigration(ctx, project, next.Version, time.Now().UTC()); err != nil {
			return fmt.Errorf("migrate %s: complete %s: %w", project, next.Version, err)
		}
	}
}

// nextStep returns the lowest-version step not yet DONE, or ok=false if all
// registered steps have been applied.
func (c *Coordinator) nextStep(done map[string]struct{}) (Step, bool) {
	for _, s := range c.steps {
		if _, ok := done[s.Version]; !ok {
			return s, true
		}
	}
	return Step{}, false
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
