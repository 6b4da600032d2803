package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/provender/shelfsync/pkg/catalog"
)

func newImagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Manage product images",
	}
	cmd.AddCommand(newImagesListCmd(), newImagesIngestCmd(), newImagesDeleteCmd())
	return cmd
}

func newImagesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <item-id>",
		Short: "List the active image records for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(false)
			if err != nil {
				return err
			}
			defer client.Close()

			records, err := client.ProductImages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, records)
		},
	}
}

func newImagesIngestCmd() *cobra.Command {
	var slot string

	cmd := &cobra.Command{
		Use:   "ingest <item-id> <file>",
		Short: "Ingest a local image file for an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			client, _, err := newClient(false)
			if err != nil {
				return err
			}
			defer client.Close()

			record, err := client.IngestImage(cmd.Context(), args[0],
				catalog.Slot(slot), data, filepath.Base(args[1]))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "stored %s at %s (%d variants)\n",
				record.ImageID, record.ObjectPath, len(record.Variants))
			return nil
		},
	}

	cmd.Flags().StringVar(&slot, "slot", "front",
		"image slot: front, back, label, package, or gift")

	return cmd
}

func newImagesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <image-id>",
		Short: "Delete a stored image, its variants, and its references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient(false)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.DeleteImage(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
