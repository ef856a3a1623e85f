package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/urnharvest/internal/app"
	"github.com/MrSnakeDoc/urnharvest/internal/sources"
)

// titleArgs accepts source titles, or none at all when --all is set.
func titleArgs(all *bool) cobra.PositionalArgs {
	return usageArgs(func(_ *cobra.Command, args []string) error {
		switch {
		case *all && len(args) > 0:
			return errors.New("--all cannot be combined with source titles")
		case !*all && len(args) == 0:
			return errors.New("give at least one source title, or --all")
		}
		for _, t := range args {
			if !sources.ValidTitle(t) {
				return fmt.Errorf("%w: %q (allowed: letters, digits, '-' and '_')", sources.ErrInvalidTitle, t)
			}
		}
		return nil
	})
}

func newHarvestCmd() *cobra.Command {
	var all, full bool
	cmd := &cobra.Command{
		Use:   "harvest [title...]",
		Short: "Harvest the given sources once",
		Long: "Harvest the given sources once. Runs are incremental when the source " +
			"format allows it, unless --full is set. Exits 1 if any source failed.",
		Args: titleArgs(&all),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Harvest(ctx, args, all, full)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "harvest every configured source")
	cmd.Flags().BoolVar(&full, "full", false, "ignore the last successful run and fetch everything")
	return cmd
}

func newResetCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset [title...]",
		Short: "Make the next run of the given sources a full run",
		Args:  titleArgs(&all),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.RequestFullRun(ctx, args, all)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reset every configured source")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Harvest on a schedule and serve health, status and metrics over HTTP",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}
