package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alekspetrov/nbpilot/internal/logging"
	"github.com/alekspetrov/nbpilot/internal/relay"
)

// LastMessageFetcher reads the relay's current message.
type LastMessageFetcher interface {
	GetLastMessage(ctx context.Context) (*relay.Message, error)
}

// Poller queries the relay until it returns a message whose id has not been
// dispatched yet. Query failures never end polling; they only lengthen the
// wait before the next query.
type Poller struct {
	fetcher LastMessageFetcher
	policy  RetryPolicy
	seen    *SeenSet
	wait    func(ctx context.Context, d time.Duration) error
	log     *slog.Logger
}

// NewPoller creates a poller. A nil seen set is replaced by an empty one.
func NewPoller(fetcher LastMessageFetcher, policy RetryPolicy, seen *SeenSet) *Poller {
	if seen == nil {
		seen = NewSeenSet()
	}
	return &Poller{
		fetcher: fetcher,
		policy:  policy,
		seen:    seen,
		wait:    sleep,
		log:     logging.WithComponent("source.poller"),
	}
}

// Seen returns the set of dispatched ids.
func (p *Poller) Seen() *SeenSet {
	return p.seen
}

// Seed marks the relay's current message as already processed.
func (p *Poller) Seed(ctx context.Context) {
	msg, err := p.fetcher.GetLastMessage(ctx)
	if err != nil {
		if !errors.Is(err, relay.ErrNoMessage) {
			p.log.Warn("Could not read current message at startup", slog.Any("error", err))
		}
		return
	}
	p.seen.Add(msg.ID)
	p.log.Debug("Skipping pre-existing message", slog.String("request_id", msg.ID))
}

// Next blocks until an unseen message arrives.
func (p *Poller) Next(ctx context.Context) (Request, error) {
	for {
		msg, err := p.fetcher.GetLastMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Request{}, ctx.Err()
			}
			if errors.Is(err, relay.ErrNoMessage) {
				err = nil
			} else {
				p.log.Warn("Error fetching latest request", slog.Any("error", err))
			}
		}

		if err == nil && msg != nil && p.seen.Add(msg.ID) {
			return Request{ID: msg.ID, Text: msg.Text}, nil
		}

		if err := p.wait(ctx, p.policy.Delay(err)); err != nil {
			return Request{}, err
		}
	}
}
