package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/urnharvest/internal/app"
	"github.com/MrSnakeDoc/urnharvest/internal/config"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
	"github.com/MrSnakeDoc/urnharvest/internal/version"
)

// usageError marks a command line that could not be understood.
type usageError struct {
	cmd *cobra.Command
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// usageArgs turns an argument validation failure into a usageError.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &usageError{cmd: cmd, err: err}
		}
		return nil
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "urnharvest",
		Short:         "Harvest URN to URL mappings from repository feeds",
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{cmd: cmd, err: err}
	})

	root.AddCommand(
		newHarvestCmd(),
		newResetCmd(),
		newServeCmd(),
		newMigrateCmd(),
		newSourcesCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  usageArgs(cobra.NoArgs),
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			},
		},
	)
	return root
}

// setup loads the configuration and builds the logger.
func setup() (*config.Config, logger.Logger) {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.PrettyLog)
	log.Debugf("configuration loaded: %+v", cfg.Redacted())
	return cfg, log
}

// withApp runs fn against a connected App and tears it down afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, log := setup()
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", logger.Error(err))
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
