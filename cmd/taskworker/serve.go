package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/icij/taskworker/config"
	"github.com/icij/taskworker/depscope"
	"github.com/icij/taskworker/domain"
	"github.com/icij/taskworker/opsapi"
	"github.com/icij/taskworker/pool"
	"github.com/icij/taskworker/publisher"
	"github.com/icij/taskworker/store"
	"github.com/icij/taskworker/worker"
)

var (
	workerChild bool
	workerID    string
)

func newServeWorkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-worker",
		Short: "Run the worker pool, or (with --worker-child) a single re-exec'd worker process",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("serve-worker: %w", err)
			}
			log, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("serve-worker: %w", err)
			}

			if workerChild {
				return runWorkerChild(cfg, log)
			}
			return runPoolParent(cfg, log)
		},
	}
	cmd.Flags().BoolVar(&workerChild, "worker-child", false, "internal: run as a single worker process re-exec'd by the pool parent")
	cmd.Flags().StringVar(&workerID, "worker-id", "", "internal: worker id assigned by the pool parent")
	return cmd
}

// runWorkerChild is the body of one OS process spawned by pool.Pool. It
// never serves /healthz, /metrics or /ws/events — that surface lives only
// in the pool parent.
func runWorkerChild(cfg *config.Config, log zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	tracer, err := openTracer(cfg)
	if err != nil {
		return err
	}
	if tracer != nil {
		defer func() { _ = tracer.Shutdown(context.Background()) }()
	}

	id := workerID
	if id == "" {
		id = uuid.NewString()
	}
	pub := publisher.New(s, log)
	reg := buildRegistry()

	opts := []worker.Option{
		worker.WithPollInterval(cfg.TaskQueuePollInterval),
		worker.WithCancelledRefreshInterval(cfg.CancelledTasksRefreshInterval),
		worker.WithMetrics(buildMetrics()),
	}
	if tracer != nil {
		opts = append(opts, worker.WithTracer(tracer))
	}
	w := worker.New(id, s, pub, reg, cfg.Projects, log, opts...)

	log.Info().Str("worker_id", id).Msg("worker starting")
	err = w.WorkForever(ctx)
	log.Info().Str("worker_id", id).Msg("worker stopped")
	return err
}

// runPoolParent spawns cfg.NWorkers child processes (this same binary,
// re-invoked with --worker-child) and serves the ops-only HTTP surface
// alongside them.
func runPoolParent(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	m := buildMetrics()
	hub := opsapi.NewHub()

	checks := map[string]opsapi.HealthChecker{
		"store": func(ctx context.Context) error {
			return s.EnsureProject(ctx, "healthz")
		},
	}
	srv := opsapi.New(hub, log, checks)
	httpServer := &http.Server{Addr: cfg.OpsAddr, Handler: srv.Engine()}

	scope := depscope.New(
		depscope.Dependency{
			Name: "ops-http-server",
			Enter: func(_ context.Context) error {
				go func() {
					if lerr := httpServer.ListenAndServe(); lerr != nil && !errors.Is(lerr, http.ErrServerClosed) {
						log.Error().Err(lerr).Msg("ops http server error")
					}
				}()
				return nil
			},
			Exit: func(ctx context.Context, _ error) error {
				return httpServer.Shutdown(ctx)
			},
		},
	)
	if err := scope.Enter(ctx); err != nil {
		return fmt.Errorf("serve-worker: %w", err)
	}

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("serve-worker: resolve binary path: %w", err)
	}
	childArgs := func(id string) []string {
		args := []string{"serve-worker", "--worker-child", "--worker-id", id}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		return args
	}

	p := pool.New(cfg.NWorkers, binary, childArgs, s, cfg.Projects, log,
		pool.WithMetrics(m),
	)

	pollCtx, pollCancel := context.WithCancel(ctx)
	go pollAndBroadcast(pollCtx, s, cfg.Projects, hub, cfg.TaskQueuePollInterval)

	runErr := p.Run(ctx)
	pollCancel()

	exitErr := scope.Exit(context.Background(), runErr)
	if runErr != nil {
		return runErr
	}
	return exitErr
}

// pollAndBroadcast reconciles the store's task statuses into opsapi's
// WebSocket stream. Worker processes run in separate OS processes from the
// pool parent (§4.5), so they cannot call hub.NotifyTaskStatus directly;
// this periodic diff is how the parent's /ws/events surface stays current
// without inter-process notification plumbing.
func pollAndBroadcast(ctx context.Context, s store.Store, projects []string, hub *opsapi.Hub, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	seen := make(map[string]domain.TaskStatus)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, project := range projects {
				tasks, err := s.ListTasks(ctx, project, domain.TaskFilter{})
				if err != nil {
					continue
				}
				for _, t := range tasks {
					key := project + "/" + t.ID
					if seen[key] == t.Status {
						continue
					}
					seen[key] = t.Status
					hub.NotifyTaskStatus(ctx, t)
				}
			}
		}
	}
}
