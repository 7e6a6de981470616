package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/icij/taskworker/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxQueueSize != 1000 {
		t.Fatalf("expected default max_queue_size 1000, got %d", cfg.MaxQueueSize)
	}
	if cfg.NWorkers != 1 {
		t.Fatalf("expected default n_workers 1, got %d", cfg.NWorkers)
	}
	if cfg.CancelledTasksRefreshInterval != 2*time.Second {
		t.Fatalf("expected default cancelled_tasks_refresh_interval_s 2s, got %s", cfg.CancelledTasksRefreshInterval)
	}
	if cfg.MigrationTimeout != 300*time.Second {
		t.Fatalf("expected default migration_timeout_s 300s, got %s", cfg.MigrationTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log_level info, got %q", cfg.LogLevel)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskworker.yaml")
	body := []byte("max_queue_size: 50\nn_workers: 4\nforce_migrations: true\nprojects: [\"proj1\", \"proj2\"]\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxQueueSize != 50 {
		t.Fatalf("expected max_queue_size 50, got %d", cfg.MaxQueueSize)
	}
	if cfg.NWorkers != 4 {
		t.Fatalf("expected n_workers 4, got %d", cfg.NWorkers)
	}
	if !cfg.ForceMigrations {
		t.Fatal("expected force_migrations true")
	}
	if len(cfg.Projects) != 2 || cfg.Projects[0] != "proj1" {
		t.Fatalf("unexpected projects: %v", cfg.Projects)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskworker.yaml")
	if err := os.WriteFile(path, []byte("n_workers: 4\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("TASKWORKER_N_WORKERS", "8")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NWorkers != 8 {
		t.Fatalf("expected env override to win, got n_workers=%d", cfg.NWorkers)
	}
}

func TestLoad_RejectsInvalidMaxQueueSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskworker.yaml")
	if err := os.WriteFile(path, []byte("max_queue_size: 0\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected Load to reject max_queue_size=0")
	}
}

func TestLoad_RejectsInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskworker.yaml")
	if err := os.WriteFile(path, []byte("log_level: not-a-level\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected Load to reject an invalid log_level")
	}
}
