package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/nbpilot/internal/adapters/telegram"
	"github.com/alekspetrov/nbpilot/internal/banner"
	"github.com/alekspetrov/nbpilot/internal/health"
	"github.com/alekspetrov/nbpilot/internal/logging"
	"github.com/alekspetrov/nbpilot/internal/relay"
	"github.com/alekspetrov/nbpilot/internal/transcription"
)

const missingTokenMessage = "Error: TELEGRAM_BOT_TOKEN is missing."

func newBotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot that forwards requests to the relay",
		Long: `Run the Telegram bot front end.

Text messages are pushed to the relay as requests. Voice notes are
downloaded into the relay's audio directory, converted with ffmpeg,
transcribed, and the transcript is pushed.

The bot token is read from telegram.bot_token or TELEGRAM_BOT_TOKEN.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			if cfg.Telegram.BotToken == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), missingTokenMessage)
				return fmt.Errorf("%w: %w", errReported, telegram.ErrMissingToken)
			}

			var voice telegram.VoiceProcessor
			svc, err := transcription.NewService(cfg.Transcription)
			if err != nil {
				logging.WithComponent("telegram").Warn("Voice transcription disabled", slog.Any("error", err))
			} else {
				voice = svc
			}

			client := relay.NewClient(cfg.Relay.PublicURL)
			bot, err := telegram.NewBot(cfg.Telegram, client, voice, &telegram.HandlerConfig{
				AudioDir:          cfg.Relay.AudioDir,
				PublicURL:         cfg.Relay.PublicURL,
				TranscribeTimeout: cfg.Transcription.Timeout,
			})
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			banner.Startup(cmd.OutOrStdout(), version, "Telegram Bot", health.RunChecks(cfg), []banner.Field{
				{Label: "Relay", Value: client.BaseURL()},
				{Label: "Audio", Value: cfg.Relay.AudioDir},
			})

			return bot.Run(ctx)
		},
	}

	return cmd
}
