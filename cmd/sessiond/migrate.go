package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"sessiond/cmd/internal/app"
	"sessiond/cmd/internal/migrations"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
		Long:  `Apply or roll back the embedded sessiond schema on SESSIOND_DATABASE_URL.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withPool(func(ctx context.Context, cmd *cobra.Command, pool *pgxpool.Pool, log *slog.Logger) error {
				v, err := migrations.Up(ctx, pool, log)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: withPool(func(ctx context.Context, cmd *cobra.Command, pool *pgxpool.Pool, log *slog.Logger) error {
				v, err := migrations.Down(ctx, pool, log)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current schema version",
			RunE: withPool(func(ctx context.Context, cmd *cobra.Command, pool *pgxpool.Pool, _ *slog.Logger) error {
				v, err := migrations.Version(ctx, pool)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
				return nil
			}),
		},
	)
	return cmd
}

type poolFunc func(ctx context.Context, cmd *cobra.Command, pool *pgxpool.Pool, log *slog.Logger) error

func withPool(fn poolFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg := app.LoadConfig()
		if cfg.DatabaseURL == "" {
			return errors.New("SESSIOND_DATABASE_URL is required")
		}
		log := app.NewLogger(cfg.LogLevel, cfg.LogFormat, nil)

		ctx := cmd.Context()
		pool, err := app.NewDBPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		defer pool.Close()

		return fn(ctx, cmd, pool, log)
	}
}
