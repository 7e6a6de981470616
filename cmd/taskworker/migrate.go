package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/icij/taskworker/config"
	"github.com/icij/taskworker/migration"
)

func newMigrateCommand() *cobra.Command {
	var (
		projects []string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run the migration coordinator against one or more projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			targets := projects
			if len(targets) == 0 {
				targets = cfg.Projects
			}
			if len(targets) == 0 {
				return fmt.Errorf("migrate: no projects given (pass --project or set projects in config)")
			}

			s, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			coord := migration.New(s, buildMigrationSteps(s), log,
				migration.WithTimeout(cfg.MigrationTimeout),
				migration.WithThrottle(cfg.MigrationThrottle),
			)

			forceMigrations := force || cfg.ForceMigrations
			ctx := context.Background()
			for _, project := range targets {
				log.Info().Str("project", project).Bool("force", forceMigrations).Msg("migrating")
				if err := coord.Migrate(ctx, project, forceMigrations); err != nil {
					return fmt.Errorf("migrate project %s: %w", project, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&projects, "project", nil, "project to migrate (repeatable; defaults to config's projects list)")
	cmd.Flags().BoolVar(&force, "force", false, "wipe all prior migration records before migrating (overrides config's force_migrations)")
	return cmd
}
