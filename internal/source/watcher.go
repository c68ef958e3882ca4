package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alekspetrov/nbpilot/internal/logging"
	"github.com/alekspetrov/nbpilot/internal/relay"
)

// Watcher receives requests over the relay's websocket subscription instead
// of polling. It shares the poller's dedup and backoff rules.
type Watcher struct {
	url          string
	dialer       *websocket.Dialer
	policy       RetryPolicy
	seen         *SeenSet
	conn         *websocket.Conn
	connected    bool // a connection has been established at least once
	skipSnapshot bool // the next frame may be the startup snapshot
	wait         func(ctx context.Context, d time.Duration) error
	log          *slog.Logger
}

// NewWatcher subscribes to the relay websocket at url (ws://host:port/ws).
func NewWatcher(url string, policy RetryPolicy, seen *SeenSet) *Watcher {
	if seen == nil {
		seen = NewSeenSet()
	}
	return &Watcher{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		policy: policy,
		seen:   seen,
		wait:   sleep,
		log:    logging.WithComponent("source.watcher"),
	}
}

// Seen returns the set of dispatched ids.
func (w *Watcher) Seen() *SeenSet {
	return w.seen
}

// Seed subscribes before the first Next so that messages pushed in the
// meantime are buffered on the connection. The snapshot the relay sends on
// this first connection is still treated as stale.
func (w *Watcher) Seed(ctx context.Context) {
	if w.conn != nil {
		return
	}
	if err := w.connect(ctx); err != nil {
		w.log.Warn("Could not subscribe at startup", slog.Any("error", err))
	}
}

// Next blocks until an unseen message is pushed.
func (w *Watcher) Next(ctx context.Context) (Request, error) {
	for {
		if w.conn == nil {
			if err := w.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return Request{}, ctx.Err()
				}
				w.log.Warn("Relay subscription failed", slog.Any("error", err))
				if err := w.wait(ctx, w.policy.Delay(err)); err != nil {
					return Request{}, err
				}
				continue
			}
		}

		ev, err := w.read(ctx)
		if err != nil {
			_ = w.conn.Close()
			w.conn = nil
			if ctx.Err() != nil {
				return Request{}, ctx.Err()
			}
			w.log.Warn("Relay subscription dropped", slog.Any("error", err))
			if err := w.wait(ctx, w.policy.Delay(err)); err != nil {
				return Request{}, err
			}
			continue
		}

		startup := w.skipSnapshot
		w.skipSnapshot = false
		if startup && ev.Type == relay.EventSnapshot {
			w.seen.Add(ev.Message.ID)
			continue
		}

		if ev.Message.ID != "" && w.seen.Add(ev.Message.ID) {
			return Request{ID: ev.Message.ID, Text: ev.Message.Text}, nil
		}
	}
}

// Close drops the subscription.
func (w *Watcher) Close() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

func (w *Watcher) connect(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	w.conn = conn
	w.skipSnapshot = !w.connected
	w.connected = true
	w.log.Debug("Subscribed to relay", slog.String("url", w.url))
	return nil
}

// read waits for one event; cancelling ctx closes the connection to unblock it.
func (w *Watcher) read(ctx context.Context) (relay.Event, error) {
	done := make(chan struct{})
	defer close(done)

	conn := w.conn
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	var ev relay.Event
	if err := conn.ReadJSON(&ev); err != nil {
		return relay.Event{}, err
	}
	return ev, nil
}
