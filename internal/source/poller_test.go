package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alekspetrov/nbpilot/internal/relay"
)

// scriptedFetcher replays a fixed sequence of results, repeating the last one.
type scriptedFetcher struct {
	results []fetchResult
	calls   int
}

type fetchResult struct {
	msg *relay.Message
	err error
}

func (f *scriptedFetcher) GetLastMessage(ctx context.Context) (*relay.Message, error) {
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	r := f.results[i]
	return r.msg, r.err
}

func msg(id, text string) *relay.Message {
	return &relay.Message{ID: id, Text: text}
}

func newTestPoller(f LastMessageFetcher) (*Poller, *[]time.Duration) {
	var waits []time.Duration
	p := NewPoller(f, RetryPolicy{Interval: time.Second, Backoff: 5 * time.Second}, nil)
	p.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) > 100 {
			return errors.New("too many waits")
		}
		return ctx.Err()
	}
	return p, &waits
}

func TestPollerReturnsNewMessage(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{
		{err: relay.ErrNoMessage},
		{msg: msg("a1", "hello")},
	}}
	p, waits := newTestPoller(f)

	req, err := p.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if req.ID != "a1" || req.Text != "hello" {
		t.Errorf("got %+v", req)
	}
	if len(*waits) != 1 || (*waits)[0] != time.Second {
		t.Errorf("expected one interval wait, got %v", *waits)
	}
	if !p.Seen().Has("a1") {
		t.Error("dispatched id not recorded")
	}
}

func TestPollerNeverRedispatchesSeenID(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{
		{msg: msg("a1", "hello")},
		{msg: msg("a1", "hello")},
		{msg: msg("a1", "hello")},
		{msg: msg("a2", "world")},
	}}
	p, waits := newTestPoller(f)
	ctx := context.Background()

	first, err := p.Next(ctx)
	if err != nil || first.ID != "a1" {
		t.Fatalf("first Next = %+v, %v", first, err)
	}

	second, err := p.Next(ctx)
	if err != nil {
		t.Fatalf("second Next failed: %v", err)
	}
	if second.ID != "a2" {
		t.Errorf("expected a2 after repeated a1, got %s", second.ID)
	}
	if len(*waits) != 2 {
		t.Errorf("expected 2 interval waits while a1 repeated, got %d", len(*waits))
	}
}

func TestPollerBacksOffOnError(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{
		{err: errors.New("connection refused")},
		{err: errors.New("malformed JSON")},
		{msg: msg("b1", "ok")},
	}}
	p, waits := newTestPoller(f)

	req, err := p.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if req.ID != "b1" {
		t.Errorf("got %+v", req)
	}
	want := []time.Duration{5 * time.Second, 5 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, (*waits)[i], want[i])
		}
	}
}

func TestPollerSeedSkipsStaleMessage(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{
		{msg: msg("stale", "old request")},
		{msg: msg("stale", "old request")},
		{msg: msg("fresh", "new request")},
	}}
	p, _ := newTestPoller(f)
	ctx := context.Background()

	p.Seed(ctx)
	req, err := p.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if req.ID != "fresh" {
		t.Errorf("stale message replayed: got %s", req.ID)
	}
}

func TestPollerSeedIgnoresFailures(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{
		{err: errors.New("down")},
		{msg: msg("a1", "x")},
	}}
	p, _ := newTestPoller(f)
	ctx := context.Background()

	p.Seed(ctx)
	if p.Seen().Len() != 0 {
		t.Error("failed seed must not record anything")
	}
	req, err := p.Next(ctx)
	if err != nil || req.ID != "a1" {
		t.Errorf("Next = %+v, %v", req, err)
	}
}

func TestPollerContextCancelled(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{err: relay.ErrNoMessage}}}
	p := NewPoller(f, RetryPolicy{Interval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Next(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
