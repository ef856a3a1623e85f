package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/urnharvest/internal/config"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
	"github.com/MrSnakeDoc/urnharvest/internal/store/postgres"
)

var errNoDatabase = errors.New("migrations need URNH_STORE=postgres")

// migrateSetup returns the database url or errNoDatabase.
func migrateSetup() (string, logger.Logger, error) {
	cfg, log := setup()
	if cfg.Store != config.StorePostgres {
		return "", log, errNoDatabase
	}
	return cfg.DatabaseURL, log, nil
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, log, err := migrateSetup()
			if err != nil {
				return err
			}
			return postgres.RunMigrations(dsn, log)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, log, err := migrateSetup()
			if err != nil {
				return err
			}
			return postgres.RunMigrations(dsn, log)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, log, err := migrateSetup()
			if err != nil {
				return err
			}
			return postgres.MigrateDown(dsn, steps, log)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, log, err := migrateSetup()
			if err != nil {
				return err
			}
			v, dirty, err := postgres.MigrationVersion(dsn, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %v)\n", v, dirty)
			return nil
		},
	})
	return cmd
}
