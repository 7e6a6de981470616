package main

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskworker",
		Short: "Distributed task execution system: worker pool and migration coordinator",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (TASKWORKER_ env vars always override it)")

	root.AddCommand(newServeWorkerCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newVersionCommand())
	return root
}
