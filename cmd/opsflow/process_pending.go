package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func processPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process-pending",
		Short: "Run the pipeline for events admitted but never processed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			a, _, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.Orchestrator.ProcessPending(cmd.Context(), limit)
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d pending events\n", n)
			return err
		},
	}

	cmd.Flags().Int("limit", 500, "maximum number of events to process")
	return cmd
}
