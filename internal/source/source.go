// Package source produces the stream of user requests fed to the task loop:
// typed console lines, or new messages read from the relay.
package source

import (
	"context"
	"sync"
	"time"
)

// Request is one user request. ID is unique per request.
type Request struct {
	ID   string
	Text string
}

// Source yields requests one at a time. Next blocks until a request is
// available, the context is cancelled, or the source is exhausted (io.EOF).
type Source interface {
	Next(ctx context.Context) (Request, error)
}

// Seeder is implemented by sources that must record pre-existing state before
// the first Next call so that a stale request is not replayed.
type Seeder interface {
	Seed(ctx context.Context)
}

// SeenSet records the ids already dispatched during this process lifetime.
type SeenSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSeenSet creates an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{ids: make(map[string]struct{})}
}

// Add records id and reports whether it was new.
func (s *SeenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Has reports whether id was recorded.
func (s *SeenSet) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of recorded ids.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// RetryPolicy controls how often a remote source is queried.
type RetryPolicy struct {
	// Interval is the delay between queries that succeeded but found nothing new.
	Interval time.Duration `yaml:"poll_interval"`
	// Backoff is the delay after a failed query.
	Backoff time.Duration `yaml:"error_backoff"`
}

// DefaultRetryPolicy polls every second and backs off five seconds on errors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Interval: time.Second,
		Backoff:  5 * time.Second,
	}
}

// Delay returns the wait before the next query given the last query's error.
func (p RetryPolicy) Delay(err error) time.Duration {
	def := DefaultRetryPolicy()
	if err != nil {
		if p.Backoff <= 0 {
			return def.Backoff
		}
		return p.Backoff
	}
	if p.Interval <= 0 {
		return def.Interval
	}
	return p.Interval
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
