package main

import (
	"os/signal"
	"syscall"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/entrhq/playback/pkg/monitor"
	"github.com/entrhq/playback/pkg/server"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Show the players of a running playbackd",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := lo.Must(cmd.Flags().GetString("url"))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := server.NewClient(url, nil)
		if err := client.Refresh(ctx); err != nil {
			return err
		}
		return monitor.Run(ctx, client, nil)
	},
}

func init() {
	monitorCmd.Flags().StringP("url", "u", "http://localhost:8089", "Base URL of the playbackd server")
}
