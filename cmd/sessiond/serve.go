package main

import (
	"github.com/spf13/cobra"

	"sessiond/cmd/internal/app"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and realtime server",
		Long:  `Serve the auth endpoints, the /ws gateway, probes and metrics. Configuration comes from SESSIOND_* environment variables.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides SESSIOND_HTTP_ADDR)")
	return cmd
}
