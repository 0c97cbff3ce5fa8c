package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overhearops/overhearops/internal/domain/run"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <thread>",
		Short: "Run the pipeline once on the latest message of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				rec, err := a.runs.StartThread(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(cmd.OutOrStdout(), rec)
			})
		},
	}
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and resume stored runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			thread, _ := cmd.Flags().GetString("thread")
			limit, _ := cmd.Flags().GetInt("limit")
			if limit < 1 {
				return fmt.Errorf("limit must be >= 1")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				runs, err := a.runs.List(ctx, thread, limit)
				if err != nil {
					return err
				}
				return printSummaries(cmd.OutOrStdout(), runs)
			})
		},
	}
	list.Flags().String("thread", "", "only runs of this thread")
	list.Flags().Int("limit", 20, "maximum runs to list")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run record: verdict, gate, plans and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				rec, err := a.runs.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(cmd.OutOrStdout(), rec)
			})
		},
	}

	graph := &cobra.Command{
		Use:   "graph <run-id>",
		Short: "Show the action graph of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				g, err := a.runs.Graph(ctx, args[0])
				if err != nil {
					return err
				}
				return printGraph(cmd.OutOrStdout(), g)
			})
		},
	}

	resume := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Continue an unfinished run after a checkpointed stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			after, _ := cmd.Flags().GetString("after")
			stage := run.Stage(after)
			if !stage.Valid() {
				return fmt.Errorf("--after %q is not a pipeline stage (%v)", after, run.Stages)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				rec, err := a.runs.Resume(ctx, args[0], stage)
				if err != nil {
					return err
				}
				return printRecord(cmd.OutOrStdout(), rec)
			})
		},
	}
	resume.Flags().String("after", "", "last completed stage to resume after")
	_ = resume.MarkFlagRequired("after")

	cmd.AddCommand(list, show, graph, resume)
	return cmd
}

// withApp loads config, builds the service graph without network
// infrastructure, and runs fn.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	closer := cliLogger(cfg)
	defer closer.Close()

	a, err := newApp(ctx, cfg, wiring{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
