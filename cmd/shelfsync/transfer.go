package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/provender/shelfsync/pkg/catalog"
)

func newExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the active catalog as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := newClient(false)
			if err != nil {
				return err
			}
			defer client.Close()

			items, err := client.Items(cmd.Context())
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(items)
			if err != nil {
				return err
			}

			if out == "" {
				fmt.Fprint(cmd.OutOrStdout(), string(data))
				return nil
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d items to %s\n", len(items), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")

	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Seed the catalog from a YAML export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var items []*catalog.Item
			if err := yaml.Unmarshal(data, &items); err != nil {
				return err
			}

			client, _, err := newClient(false)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.SeedItems(cmd.Context(), items); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d items\n", len(items))
			return nil
		},
	}
}
