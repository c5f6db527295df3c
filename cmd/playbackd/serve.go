package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/entrhq/playback/pkg/config"
	"github.com/entrhq/playback/pkg/logging"
	"github.com/entrhq/playback/pkg/monitor"
	"github.com/entrhq/playback/pkg/playback"
	"github.com/entrhq/playback/pkg/server"
	"github.com/entrhq/playback/pkg/types"
	"github.com/entrhq/playback/pkg/widget/twitch"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller and its HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to a YAML config file")
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolP("monitor", "m", false, "Show the terminal monitor while serving")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := lo.Must(cmd.Flags().GetString("config")); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if addr := lo.Must(cmd.Flags().GetString("addr")); addr != "" {
		cfg.Server.Addr = addr
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	withMonitor := lo.Must(cmd.Flags().GetBool("monitor"))

	logging.SetDirectory(cfg.Logging.Dir)
	if err := logging.SetLevel(cfg.Logging.Level); err != nil {
		return err
	}
	log, err := logging.NewLogger("playbackd")
	if err != nil {
		log.Warnf("logging to stderr: %v", err)
	}
	defer log.Close()

	// Tell the operator where the session log lives
	if path := log.LogPath(); path != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Logging to %s\n", path)
	}
	log.Infof("playbackd v%s starting (session %s)", version, log.SessionID())

	opts, err := cfg.PlaybackOptions()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	var feed *monitor.Feed
	var emit types.EventEmitter
	if withMonitor {
		feed = monitor.NewFeed(256)
		emit = feed.Emit
	}

	endpoint := twitch.New(cfg.TwitchOptions(), log.Named("twitch"))
	controller, err := playback.New(opts, endpoint, log.Named("controller"), emit)
	if err != nil {
		return multierr.Append(err, endpoint.Close())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(controller, log.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if withMonitor {
		go func() {
			if err := monitor.Run(ctx, controller, feed); err != nil {
				log.Errorf("monitor stopped: %v", err)
			}
			stop()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Infof("shutting down")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return multierr.Combine(
		runErr,
		srv.Shutdown(shutdownCtx),
		controller.Close(),
		endpoint.Close(),
	)
}
