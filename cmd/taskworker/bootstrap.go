package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/icij/taskworker/config"
	"github.com/icij/taskworker/migration"
	"github.com/icij/taskworker/observability/logging"
	"github.com/icij/taskworker/observability/metrics"
	"github.com/icij/taskworker/registry"
	"github.com/icij/taskworker/store"
	"github.com/icij/taskworker/store/memory"
	"github.com/icij/taskworker/store/postgres"
	"github.com/icij/taskworker/telemetry"
)

// openStore opens the PostgreSQL store when cfg.PostgresDSN is set, falling
// back to the in-memory store otherwise — the same fallback the teacher's
// cmd/worker wiring uses for DATABASE_URL.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.PostgresDSN == "" {
		s, err := memory.New()
		if err != nil {
			return nil, fmt.Errorf("open in-memory store: %w", err)
		}
		return s, nil
	}
	db, err := gorm.Open(pgdriver.Open(cfg.PostgresDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s, err := postgres.New(db)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return s, nil
}

// openTracer builds the configured telemetry provider. "none" disables
// tracing entirely, matching the ambient default table's otel_exporter knob.
func openTracer(cfg *config.Config) (*telemetry.Provider, error) {
	switch cfg.OTELExporter {
	case "", "stdout":
		return telemetry.NewStdout("taskworker")
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown otel_exporter %q", cfg.OTELExporter)
	}
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	lvl, err := cfg.ZerologLevel()
	if err != nil {
		return zerolog.Logger{}, err
	}
	return logging.New(os.Stdout, lvl), nil
}

// buildRegistry returns the process-local task-function table with the
// built-in task types this binary ships (an "echo" smoke-test task) already
// registered. A library embedding this binary's bootstrap would extend it
// before passing it to worker.New.
func buildRegistry() *registry.Registry {
	r := registry.New()
	_ = r.Register("echo", echoTask)
	return r
}

type echoArgs struct {
	Message string `task:"message"`
}

func echoTask(_ context.Context, a echoArgs, progress registry.ProgressFunc) (any, error) {
	progress(100)
	return a.Message, nil
}

// buildMigrationSteps returns the built-in migration registry this binary
// ships: a single bootstrap step that ensures the project row exists. A
// deployment with real schema evolutions supplies its own step list to
// migration.New instead of this placeholder.
func buildMigrationSteps(s store.Store) []migration.Step {
	return []migration.Step{
		{
			Version: "0.1.0",
			Label:   "ensure-project",
			Fn: func(ctx context.Context, project string) error {
				return s.EnsureProject(ctx, project)
			},
		},
	}
}

func buildMetrics() *metrics.Collector {
	return metrics.New()
}
