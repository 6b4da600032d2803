package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/provender/shelfsync"
	"github.com/provender/shelfsync/internal/config"
	"github.com/provender/shelfsync/internal/sched"
	"github.com/provender/shelfsync/internal/source"
	"github.com/provender/shelfsync/pkg/errors"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "shelfsync",
		Short:   "Catalog synchronization and image lifecycle management",
		Long:    "shelfsync mirrors a collection table into a local catalog database,\ningests product images into object storage, and keeps both consistent.",
		Version: fmt.Sprintf("%s (%s)", version, commit),

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newSyncCmd(),
		newStatusCmd(),
		newValidateCmd(),
		newRepairCmd(),
		newImagesCmd(),
		newExportCmd(),
		newSeedCmd(),
		newServeCmd(),
	)
	return cmd
}

// unconfiguredSource stands in when no source credentials are set, so that
// offline commands (status, validate, export) still work.
type unconfiguredSource struct{}

func (unconfiguredSource) Fetch(context.Context) ([]source.Entry, error) {
	return nil, errors.NewConfigError("source",
		"source credentials are not configured: set SHELFSYNC_SOURCE_APP_ID, "+
			"SHELFSYNC_SOURCE_APP_SECRET, SHELFSYNC_SOURCE_APP_TOKEN, and SHELFSYNC_SOURCE_TABLE_ID", nil)
}

func (unconfiguredSource) Download(context.Context, string) ([]byte, error) {
	return nil, errors.NewConfigError("source", "source credentials are not configured", nil)
}

// newClient builds a shelfsync client from the loaded configuration.
func newClient(withSchedule bool) (shelfsync.Client, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	opts := []shelfsync.Option{
		shelfsync.WithDatabasePath(cfg.DatabasePath),
		shelfsync.WithBlobRoot(cfg.BlobRoot),
		shelfsync.WithIngestConcurrency(cfg.Sync.IngestConcurrency),
		shelfsync.WithRunHistory(cfg.Sync.RunHistory),
	}

	if cfg.Source.AppID != "" {
		opts = append(opts, shelfsync.WithSourceConfig(source.Config{
			BaseURL:       cfg.Source.BaseURL,
			AppID:         cfg.Source.AppID,
			AppSecret:     cfg.Source.AppSecret,
			AppToken:      cfg.Source.AppToken,
			TableID:       cfg.Source.TableID,
			PageSize:      cfg.Source.PageSize,
			DownloadDelay: cfg.Source.DownloadDelay,
		}))
	} else {
		opts = append(opts, shelfsync.WithSource(unconfiguredSource{}))
	}

	if withSchedule && scheduleConfigured(cfg) {
		opts = append(opts, shelfsync.WithSchedule(sched.Config{
			Incremental:   cfg.Sched.Incremental,
			Full:          cfg.Sched.Full,
			Images:        cfg.Sched.Images,
			Validation:    cfg.Sched.Validation,
			TimeZone:      cfg.Sched.TimeZone,
			StaleRunAfter: cfg.Sched.StaleRunAfter,
		}))
	}

	c, err := shelfsync.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

func scheduleConfigured(cfg *config.Config) bool {
	return cfg.Sched.Incremental != "" || cfg.Sched.Full != "" ||
		cfg.Sched.Images != "" || cfg.Sched.Validation != ""
}

// printJSON renders a command result as indented JSON on stdout.
func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
