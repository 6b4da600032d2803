package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/provender/shelfsync/pkg/sync"
)

func newSyncCmd() *cobra.Command {
	var (
		mode       string
		dryRun     bool
		force      bool
		items      []string
		skipImages bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the catalog against the collection table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := newClient(false)
			if err != nil {
				return err
			}
			defer client.Close()

			opts := []sync.Option{
				sync.WithMode(sync.Mode(mode)),
				sync.WithDryRun(dryRun),
				sync.WithForceUpdate(force),
				sync.WithSkipImages(skipImages),
				sync.WithTimeout(timeout),
			}
			if len(items) > 0 {
				opts = append(opts, sync.WithItemIDs(items...))
			}

			result, err := client.Sync(cmd.Context(), opts...)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.Summary())
			for _, itemErr := range result.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  item %s (%s): %s\n",
					itemErr.ItemID, itemErr.Operation, itemErr.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "incremental", "sync mode: full, incremental, or selective")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and report changes without applying them")
	cmd.Flags().BoolVar(&force, "force", false, "re-apply every source record, skipping change detection")
	cmd.Flags().StringSliceVar(&items, "items", nil, "item IDs for selective mode")
	cmd.Flags().BoolVar(&skipImages, "skip-images", false, "apply record changes without ingesting images")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this duration (0 = none)")

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync engine state and recent run history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := newClient(false)
			if err != nil {
				return err
			}
			defer client.Close()

			status, err := client.SyncStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	}
}
