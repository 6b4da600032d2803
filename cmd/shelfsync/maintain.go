package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/provender/shelfsync/internal/validate"
)

func newValidateCmd() *cobra.Command {
	var (
		includeFiles bool
		staleAfter   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check cross-store consistency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := newClient(false)
			if err != nil {
				return err
			}
			defer client.Close()

			report, err := client.Validate(cmd.Context(), validate.Options{
				IncludeFiles:  includeFiles,
				StaleRunAfter: staleAfter,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}

	cmd.Flags().BoolVar(&includeFiles, "files", false, "also walk object storage for orphaned files")
	cmd.Flags().DurationVar(&staleAfter, "stale-after", time.Hour, "recover the run tracker if stuck longer than this")

	return cmd
}

func newRepairCmd() *cobra.Command {
	var (
		types  []string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Fix consistency issues found by a fresh scan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := newClient(false)
			if err != nil {
				return err
			}
			defer client.Close()

			issueTypes := make([]validate.IssueType, 0, len(types))
			for _, t := range types {
				issueTypes = append(issueTypes, validate.IssueType(t))
			}

			result, err := client.Repair(cmd.Context(), validate.RepairOptions{
				IssueTypes: issueTypes,
				DryRun:     dryRun,
			})
			if err != nil {
				return err
			}

			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), "dry run: nothing was changed")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&types, "types", nil,
		"issue classes to repair (orphaned_record, orphaned_file, invalid_reference, broken_association); orphaned_file must be named explicitly")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be repaired without acting")

	return cmd
}
