package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// processStart records when this process started; version prints its age
// as "process started X ago" for the process running the command itself.
var processStart = time.Now()

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the taskworker version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "taskworker %s (process started %s)\n", version, humanize.Time(processStart))
			return err
		},
	}
}
