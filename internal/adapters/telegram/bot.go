package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alekspetrov/nbpilot/internal/logging"
)

// ErrMissingToken is returned when the bot is started without a token.
var ErrMissingToken = errors.New("telegram bot token is missing")

// Config holds the bot settings.
type Config struct {
	BotToken string `yaml:"bot_token"`
	// APIURL points at the Bot API server; empty means api.telegram.org.
	APIURL     string  `yaml:"api_url"`
	AllowedIDs []int64 `yaml:"allowed_ids"` // User/chat IDs allowed to send requests
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
}

// DefaultConfig returns default Telegram configuration
func DefaultConfig() *Config {
	return &Config{
		PollTimeout: 30,
	}
}

// Bot ties the Bot API client, the polling transport and the message handler.
type Bot struct {
	client    *Client
	transport *Transport
}

// NewBot builds a bot that forwards requests through forwarder. voice may be
// nil, in which case voice notes are answered with a failure reply.
func NewBot(cfg *Config, forwarder Forwarder, voice VoiceProcessor, handlerCfg *HandlerConfig) (*Bot, error) {
	if cfg == nil || cfg.BotToken == "" {
		return nil, ErrMissingToken
	}

	client := NewClient(cfg.BotToken)
	if cfg.APIURL != "" {
		client = NewClientWithBaseURL(cfg.BotToken, cfg.APIURL)
	}

	handler := NewHandler(client, forwarder, voice, handlerCfg)
	transport := NewTransport(client, handler, &TransportConfig{
		AllowedIDs:  cfg.AllowedIDs,
		PollTimeout: cfg.PollTimeout,
	})

	return &Bot{client: client, transport: transport}, nil
}

// Run checks that no other instance is polling, then serves updates until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := b.client.CheckSingleton(checkCtx)
	cancel()
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to reach Telegram: %w", err)
	}

	logging.WithComponent("telegram").Info("Bot polling started",
		slog.Int("allowed_ids", len(b.transport.allowedIDs)))

	b.transport.StartPolling(ctx)
	<-ctx.Done()
	b.transport.Stop()

	logging.WithComponent("telegram").Info("Bot stopped")
	return nil
}
