package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func threadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads [thread]",
		Short: "List recorded threads, or show the messages of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			closer := cliLogger(cfg)
			defer closer.Close()

			threads := newThreadService(cfg, wiring{})
			if len(args) == 1 {
				msgs, err := threads.Messages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printMessages(cmd.OutOrStdout(), msgs)
			}
			counts, err := threads.Threads(cmd.Context())
			if err != nil {
				return err
			}
			return printThreads(cmd.OutOrStdout(), counts)
		},
	}
	return cmd
}
