// Package config binds the task execution system's external interface
// options (§6) to a typed Config struct via viper, so the same settings can
// come from a config file or environment variables (TASKWORKER_ prefix).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config is the fully-resolved set of options from §6, plus the ambient
// operational knobs (metrics/tracing endpoints, log level) a deployed
// instance of this system needs that the task-operation surface itself
// does not name.
type Config struct {
	MaxQueueSize                  int           `mapstructure:"max_queue_size"`
	TaskQueuePollInterval         time.Duration `mapstructure:"task_queue_poll_interval_s"`
	CancelledTasksRefreshInterval time.Duration `mapstructure:"cancelled_tasks_refresh_interval_s"`
	MigrationTimeout              time.Duration `mapstructure:"migration_timeout_s"`
	MigrationThrottle             time.Duration `mapstructure:"migration_throttle_s"`
	NWorkers                      int           `mapstructure:"n_workers"`
	ForceMigrations               bool          `mapstructure:"force_migrations"`
	LogLevel                      string        `mapstructure:"log_level"`

	MetricsAddr  string   `mapstructure:"metrics_addr"`
	OpsAddr      string   `mapstructure:"ops_addr"`
	OTELExporter string   `mapstructure:"otel_exporter"`
	PostgresDSN  string   `mapstructure:"postgres_dsn"`
	Projects     []string `mapstructure:"projects"`
}

// Load reads configuration from the defaults below, configPath (if
// non-empty), and environment variables prefixed TASKWORKER_, in ascending
// priority — matching viper's normal precedence (explicit Set > flag > env
// > config file > default).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("taskworker")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var raw struct {
		MaxQueueSize                   int      `mapstructure:"max_queue_size"`
		TaskQueuePollIntervalS         float64  `mapstructure:"task_queue_poll_interval_s"`
		CancelledTasksRefreshIntervalS float64  `mapstructure:"cancelled_tasks_refresh_interval_s"`
		MigrationTimeoutS              float64  `mapstructure:"migration_timeout_s"`
		MigrationThrottleS             float64  `mapstructure:"migration_throttle_s"`
		NWorkers                       int      `mapstructure:"n_workers"`
		ForceMigrations                bool     `mapstructure:"force_migrations"`
		LogLevel                       string   `mapstructure:"log_level"`
		MetricsAddr                    string   `mapstructure:"metrics_addr"`
		OpsAddr                        string   `mapstructure:"ops_addr"`
		OTELExporter                   string   `mapstructure:"otel_exporter"`
		PostgresDSN                    string   `mapstructure:"postgres_dsn"`
		Projects                       []string `mapstructure:"projects"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg := &Config{
		MaxQueueSize:                  raw.MaxQueueSize,
		TaskQueuePollInterval:         durationSeconds(raw.TaskQueuePollIntervalS),
		CancelledTasksRefreshInterval: durationSeconds(raw.CancelledTasksRefreshIntervalS),
		MigrationTimeout:              durationSeconds(raw.MigrationTimeoutS),
		MigrationThrottle:             durationSeconds(raw.MigrationThrottleS),
		NWorkers:                      raw.NWorkers,
		ForceMigrations:               raw.ForceMigrations,
		LogLevel:                      raw.LogLevel,
		MetricsAddr:                   raw.MetricsAddr,
		OpsAddr:                       raw.OpsAddr,
		OTELExporter:                  raw.OTELExporter,
		PostgresDSN:                   raw.PostgresDSN,
		Projects:                      raw.Projects,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func durationSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_queue_size", 1000)
	v.SetDefault("task_queue_poll_interval_s", 1.0)
	v.SetDefault("cancelled_tasks_refresh_interval_s", 2.0)
	v.SetDefault("migration_timeout_s", 300.0)
	v.SetDefault("migration_throttle_s", 1.0)
	v.SetDefault("n_workers", 1)
	v.SetDefault("force_migrations", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", ":9091")
	v.SetDefault("ops_addr", ":9092")
	v.SetDefault("otel_exporter", "stdout")
}

// Validate rejects configuration combinations the system cannot honor
// (§6: max_queue_size ≥ 1, n_workers ≥ 1).
func (c *Config) Validate() error {
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("config: max_queue_size must be >= 1, got %d", c.MaxQueueSize)
	}
	if c.NWorkers < 1 {
		return fmt.Errorf("config: n_workers must be >= 1, got %d", c.NWorkers)
	}
	if _, err := c.ZerologLevel(); err != nil {
		return err
	}
	return nil
}

// ZerologLevel parses LogLevel into a zerolog.Level.
func (c *Config) ZerologLevel() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("config: invalid log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
