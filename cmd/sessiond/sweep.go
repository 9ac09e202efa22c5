package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sessiond/cmd/internal/app"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry pass",
		Long:  `Revoke sessions past their rolling or absolute horizon, reap expired blacklist entries and prune old failed attempts, then exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := app.SweepOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "sessions=%d blacklist=%d attempts=%d\n", res.Sessions, res.Blacklist, res.Attempts)
			return err
		},
	}
}
