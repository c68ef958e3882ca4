package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/nbpilot/internal/banner"
	"github.com/alekspetrov/nbpilot/internal/config"
	"github.com/alekspetrov/nbpilot/internal/logging"
	"github.com/alekspetrov/nbpilot/internal/relay"
)

func newServeCmd() *cobra.Command {
	var (
		host     string
		port     int
		audioDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `Run the relay: a single-slot message store with an HTTP API.

Endpoints:
  GET  /get_last_msg   current message ({"id","text"}), 404 when empty
  POST /push_msg       replace the message with {"id","text"}
  GET  /ws             websocket stream of pushed messages
  GET  /all_audio      list of recorded voice files
  GET  /<file>         serve a recorded voice file

Examples:
  nbpilot serve
  nbpilot serve --port 9000 --audio-dir /srv/mp3_files`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Relay.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Relay.Port = port
			}
			if cmd.Flags().Changed("audio-dir") {
				cfg.Relay.AudioDir = audioDir
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			banner.Startup(cmd.OutOrStdout(), version, "Relay", nil, []banner.Field{
				{Label: "Listen", Value: fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port)},
				{Label: "Store", Value: cfg.Relay.Store},
				{Label: "Audio", Value: cfg.Relay.AudioDir},
			})

			return relay.NewServer(cfg.Relay, store).Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "interface to bind (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (default from config)")
	cmd.Flags().StringVar(&audioDir, "audio-dir", "", "directory of recorded voice files")

	return cmd
}

// openStore returns the configured slot backend.
func openStore(ctx context.Context, cfg *config.Config) (relay.Store, func(), error) {
	if cfg.Relay.Store != "redis" {
		return relay.NewMemoryStore(), func() {}, nil
	}

	store, err := relay.NewRedisStore(cfg.Relay.RedisURL, cfg.Relay.RedisKey)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("redis unreachable: %w", err)
	}

	closeStore := func() {
		if err := store.Close(); err != nil {
			logging.WithComponent("relay").Warn("Failed to close redis store", slog.Any("error", err))
		}
	}
	return store, closeStore, nil
}
