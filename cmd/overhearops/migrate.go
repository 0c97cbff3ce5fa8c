package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overhearops/overhearops/internal/adapter/postgres"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres run store schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := migrationDSN()
			if err != nil {
				return err
			}
			if err := postgres.RunMigrations(cmd.Context(), dsn); err != nil {
				return err
			}
			return printVersion(cmd, dsn)
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			if steps < 1 {
				return fmt.Errorf("steps must be >= 1")
			}
			dsn, err := migrationDSN()
			if err != nil {
				return err
			}
			if err := postgres.RollbackMigrations(cmd.Context(), dsn, steps); err != nil {
				return err
			}
			return printVersion(cmd, dsn)
		},
	}
	down.Flags().Int("steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := migrationDSN()
			if err != nil {
				return err
			}
			ms, err := postgres.MigrationStatus(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			return printMigrations(cmd.OutOrStdout(), ms)
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func migrationDSN() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", fmt.Errorf("config: %w", err)
	}
	closer := cliLogger(cfg)
	defer closer.Close()
	if cfg.Postgres.DSN == "" {
		return "", fmt.Errorf("postgres.dsn or DATABASE_URL is required")
	}
	return cfg.Postgres.DSN, nil
}

func printVersion(cmd *cobra.Command, dsn string) error {
	v, err := postgres.MigrationVersion(cmd.Context(), dsn)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]int64{"version": v})
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return err
}
