package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/provender/shelfsync/internal/server"
	"github.com/provender/shelfsync/pkg/logging"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the configured scheduled triggers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cfg, err := newClient(true)
			if err != nil {
				return err
			}
			defer client.Close()

			if addr == "" {
				addr = cfg.Server.ListenAddr
			}

			if scheduleConfigured(cfg) {
				if err := client.SchedulerOn(); err != nil {
					return err
				}
				defer client.SchedulerOff()
			}

			srv := server.New(addr, client)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			logging.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from configuration)")

	return cmd
}
