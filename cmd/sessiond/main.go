// Command sessiond runs the session lifecycle service and its maintenance tasks.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "sessiond",
		Short:         "Session lifecycle service",
		Long:          `sessiond issues and rotates refresh sessions, tracks lockouts and tears down realtime channels on logout.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSweepCommand(),
		newKeygenCommand(),
		newSmokeCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
