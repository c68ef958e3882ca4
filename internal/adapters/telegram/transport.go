package telegram

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alekspetrov/nbpilot/internal/logging"
)

// TransportConfig holds polling settings.
type TransportConfig struct {
	// AllowedIDs restricts the bot to these user or chat ids; empty allows all.
	AllowedIDs []int64
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// ErrorBackoff is the wait after a failed poll.
	ErrorBackoff time.Duration
}

// Transport handles Telegram polling and delegates message processing to Handler.
type Transport struct {
	client     *Client        // Telegram bot API client
	handler    *Handler       // Handler for business logic
	allowedIDs map[int64]bool // Allowed user/chat IDs
	timeout    int
	backoff    time.Duration
	offset     int64 // Next update ID to request
	mu         sync.Mutex
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewTransport creates a new Telegram transport layer.
func NewTransport(client *Client, handler *Handler, cfg *TransportConfig) *Transport {
	if cfg == nil {
		cfg = &TransportConfig{}
	}
	allowed := make(map[int64]bool)
	for _, id := range cfg.AllowedIDs {
		allowed[id] = true
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 30
	}
	backoff := cfg.ErrorBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Transport{
		client:     client,
		handler:    handler,
		allowedIDs: allowed,
		timeout:    timeout,
		backoff:    backoff,
		stopCh:     make(chan struct{}),
	}
}

// StartPolling begins the long-polling loop in a goroutine.
func (t *Transport) StartPolling(ctx context.Context) {
	t.wg.Add(1)
	go t.pollLoop(ctx)
}

// Stop gracefully stops the polling loop.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

// Offset returns the next update id that will be requested.
func (t *Transport) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// pollLoop continuously fetches and processes updates.
func (t *Transport) pollLoop(ctx context.Context) {
	defer t.wg.Done()

	// Cancel in-flight long polls on Stop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	logging.WithComponent("telegram").Debug("Transport poll loop started")

	for {
		select {
		case <-ctx.Done():
			logging.WithComponent("telegram").Debug("Transport poll loop stopped")
			return
		default:
			t.fetchAndProcess(ctx)
		}
	}
}

// fetchAndProcess fetches updates from Telegram and processes them.
func (t *Transport) fetchAndProcess(ctx context.Context) {
	updates, err := t.client.GetUpdates(ctx, t.Offset(), t.timeout)
	if err != nil {
		if ctx.Err() == nil {
			log := logging.WithComponent("telegram")
			if errors.Is(err, ErrConflict) {
				log.Error("Another bot instance is polling", slog.Any("error", err))
			} else {
				log.Warn("Error fetching updates", slog.Any("error", err))
			}
		}
		select {
		case <-ctx.Done():
		case <-time.After(t.backoff):
		}
		return
	}

	for _, update := range updates {
		t.processUpdate(ctx, update)

		// Update offset to acknowledge this update
		t.mu.Lock()
		if update.UpdateID >= t.offset {
			t.offset = update.UpdateID + 1
		}
		t.mu.Unlock()
	}
}

// processUpdate drops messages from senders outside the allow list and
// hands the rest to the handler.
func (t *Transport) processUpdate(ctx context.Context, update *Update) {
	if t.handler == nil || update.Message == nil {
		return
	}
	if !t.isAllowed(update.Message) {
		logging.WithComponent("telegram").Debug("Ignoring message from unauthorized chat/user",
			slog.Int64("chat_id", chatIDOf(update.Message)))
		return
	}
	t.handler.processUpdate(ctx, update)
}

func (t *Transport) isAllowed(msg *Message) bool {
	if len(t.allowedIDs) == 0 {
		return true
	}
	if msg.Chat != nil && t.allowedIDs[msg.Chat.ID] {
		return true
	}
	return msg.From != nil && t.allowedIDs[msg.From.ID]
}

func chatIDOf(msg *Message) int64 {
	if msg.Chat == nil {
		return 0
	}
	return msg.Chat.ID
}
