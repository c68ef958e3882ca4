//go:build unix

package loop

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/alekspetrov/nbpilot/internal/companion"
	"github.com/alekspetrov/nbpilot/internal/history"
	"github.com/alekspetrov/nbpilot/internal/relay"
	"github.com/alekspetrov/nbpilot/internal/source"
)

type scriptedSource struct {
	requests []source.Request
	seeded   bool
}

func (s *scriptedSource) Next(ctx context.Context) (source.Request, error) {
	if len(s.requests) == 0 {
		return source.Request{}, io.EOF
	}
	req := s.requests[0]
	s.requests = s.requests[1:]
	return req, nil
}

func (s *scriptedSource) Seed(ctx context.Context) {
	s.seeded = true
}

type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (source.Request, error) {
	<-ctx.Done()
	return source.Request{}, ctx.Err()
}

type fakeRunner struct {
	texts   []string
	results map[string]string
	fail    map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, text string) (string, error) {
	f.texts = append(f.texts, text)
	if err := f.fail[text]; err != nil {
		return "", err
	}
	return f.results[text], nil
}

func testCompanion() companion.Config {
	return companion.Config{
		Command:     "sleep",
		Args:        []string{"30"},
		Port:        8889,
		Warmup:      10 * time.Millisecond,
		StopTimeout: 2 * time.Second,
	}
}

type harness struct {
	loop   *Loop
	runner *fakeRunner
	handle *companion.Handle
	phases []Phase
	out    *bytes.Buffer
}

func newHarness(t *testing.T, src source.Source, runner *fakeRunner, rec Recorder) *harness {
	t.Helper()
	h := &harness{runner: runner, out: &bytes.Buffer{}}
	h.loop = New(Options{
		Source:     src,
		SourceName: "poll",
		Companion:  testCompanion(),
		NewRunner: func(ch *companion.Handle) TaskRunner {
			h.handle = ch
			return runner
		},
		History:  rec,
		Out:      h.out,
		LockPath: filepath.Join(t.TempDir(), "loop.lock"),
		OnPhase:  func(p Phase) { h.phases = append(h.phases, p) },
	})
	return h
}

func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	if h.handle == nil {
		t.Fatal("companion was never started")
	}
	if h.handle.State() != companion.StateStopped || h.handle.Alive() {
		t.Errorf("companion not released: state=%s alive=%v", h.handle.State(), h.handle.Alive())
	}
}

func TestLoopDispatchesInOrder(t *testing.T) {
	src := &scriptedSource{requests: []source.Request{
		{ID: "a1", Text: "genres"},
		{ID: "a2", Text: "artists"},
	}}
	runner := &fakeRunner{results: map[string]string{"genres": "Rock", "artists": "Iron Maiden"}}
	h := newHarness(t, src, runner, nil)

	if err := h.loop.Run(t.Context()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if strings.Join(runner.texts, ",") != "genres,artists" {
		t.Errorf("dispatched %v, want genres,artists", runner.texts)
	}
	out := h.out.String()
	for _, want := range []string{"Rock", "Iron Maiden", "a1", "a2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !src.seeded {
		t.Error("source was not seeded")
	}

	want := []Phase{
		PhaseIdle, PhaseAwaitingRequest, PhaseDispatched, PhaseCompleted,
		PhaseIdle, PhaseAwaitingRequest, PhaseDispatched, PhaseCompleted,
		PhaseIdle, PhaseAwaitingRequest,
	}
	if len(h.phases) != len(want) {
		t.Fatalf("phases = %v, want %v", h.phases, want)
	}
	for i := range want {
		if h.phases[i] != want[i] {
			t.Errorf("phase[%d] = %s, want %s", i, h.phases[i], want[i])
		}
	}
	h.assertReleased(t)
}

func TestLoopAbortReleasesCompanion(t *testing.T) {
	boom := errors.New("step budget exhausted")
	src := &scriptedSource{requests: []source.Request{
		{ID: "a1", Text: "bad"},
		{ID: "a2", Text: "never"},
	}}
	runner := &fakeRunner{fail: map[string]error{"bad": boom}}
	h := newHarness(t, src, runner, nil)

	err := h.loop.Run(t.Context())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if !strings.Contains(err.Error(), "a1") {
		t.Errorf("error %q should name the request", err)
	}
	if len(runner.texts) != 1 {
		t.Errorf("dispatched %d tasks after abort, want 1", len(runner.texts))
	}
	if h.loop.Phase() != PhaseAborted {
		t.Errorf("Phase() = %s, want aborted", h.loop.Phase())
	}
	h.assertReleased(t)
}

func TestLoopStopsOnCancel(t *testing.T) {
	h := newHarness(t, blockingSource{}, &fakeRunner{}, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil on cancel", err)
	}
	h.assertReleased(t)
}

func TestLoopLocked(t *testing.T) {
	h := newHarness(t, &scriptedSource{}, &fakeRunner{}, nil)

	held := flock.New(h.loop.opts.LockPath)
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	defer func() { _ = held.Unlock() }()

	if err := h.loop.Run(t.Context()); !errors.Is(err, ErrLocked) {
		t.Errorf("Run() error = %v, want ErrLocked", err)
	}
	if h.handle != nil {
		t.Error("companion started despite lock")
	}
}

func TestLoopRecordsHistory(t *testing.T) {
	store, err := history.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	src := &scriptedSource{requests: []source.Request{
		{ID: "a1", Text: "ok"},
		{ID: "a2", Text: "bad"},
	}}
	runner := &fakeRunner{
		results: map[string]string{"ok": "done"},
		fail:    map[string]error{"bad": errors.New("boom")},
	}
	h := newHarness(t, src, runner, store)

	if err := h.loop.Run(t.Context()); err == nil {
		t.Fatal("Run() should fail on the second task")
	}

	entries, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("recorded %d tasks, want 2", len(entries))
	}
	byRequest := map[string]*history.Entry{}
	for _, e := range entries {
		byRequest[e.RequestID] = e
	}
	if e := byRequest["a1"]; e == nil || e.Status != history.StatusCompleted || e.Result != "done" || e.Source != "poll" {
		t.Errorf("a1 = %+v", e)
	}
	if e := byRequest["a2"]; e == nil || e.Status != history.StatusFailed || e.Error != "boom" {
		t.Errorf("a2 = %+v", e)
	}
}

func TestRunOnce(t *testing.T) {
	runner := &fakeRunner{results: map[string]string{"count tracks": "3503"}}
	h := newHarness(t, &scriptedSource{}, runner, nil)

	got, err := h.loop.RunOnce(t.Context(), "count tracks")
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if got != "3503" {
		t.Errorf("RunOnce() = %q, want 3503", got)
	}
	h.assertReleased(t)
}

type cancelingRunner struct {
	texts  []string
	cancel context.CancelFunc
}

func (r *cancelingRunner) Run(ctx context.Context, text string) (string, error) {
	r.texts = append(r.texts, text)
	r.cancel()
	return "done", nil
}

func TestLoopWatchKeepsRequestsPushedDuringWarmup(t *testing.T) {
	cfg := relay.DefaultConfig()
	cfg.AudioDir = t.TempDir()
	store := relay.NewMemoryStore()
	_ = store.Set(context.Background(), relay.Message{ID: "stale", Text: "old task"})

	ts := httptest.NewServer(relay.NewServer(cfg, store).Handler())
	defer ts.Close()
	client := relay.NewClient(ts.URL)

	w := source.NewWatcher(client.WebSocketURL(), source.RetryPolicy{Interval: 10 * time.Millisecond, Backoff: 10 * time.Millisecond}, nil)
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	runner := &cancelingRunner{cancel: cancel}

	comp := testCompanion()
	comp.Warmup = 500 * time.Millisecond
	l := New(Options{
		Source:     w,
		SourceName: "watch",
		Companion:  comp,
		NewRunner:  func(*companion.Handle) TaskRunner { return runner },
		Out:        &bytes.Buffer{},
		LockPath:   filepath.Join(t.TempDir(), "loop.lock"),
	})

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = client.PushMessage(context.Background(), relay.Message{ID: "fresh", Text: "new task"})
	}()

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Join(runner.texts, ",") != "new task" {
		t.Errorf("dispatched %v, want [new task]", runner.texts)
	}
}
