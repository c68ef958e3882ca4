// Package loop runs the continuous task-relay loop: one companion session,
// one request at a time, results printed to the console.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/alekspetrov/nbpilot/internal/companion"
	"github.com/alekspetrov/nbpilot/internal/history"
	"github.com/alekspetrov/nbpilot/internal/logging"
	"github.com/alekspetrov/nbpilot/internal/source"
)

// ErrLocked is returned when another loop already holds the lock.
var ErrLocked = errors.New("another nbpilot loop is already running")

// Phase is the state of one loop iteration.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingRequest
	PhaseDispatched
	PhaseCompleted
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingRequest:
		return "awaiting_request"
	case PhaseDispatched:
		return "dispatched"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TaskRunner runs one request to a final result.
type TaskRunner interface {
	Run(ctx context.Context, text string) (string, error)
}

// RunnerFactory builds the task runner for a started companion.
type RunnerFactory func(h *companion.Handle) TaskRunner

// Recorder persists dispatched tasks. *history.Store implements it.
type Recorder interface {
	Start(requestID, text, source string) (*history.Entry, error)
	Finish(id, result string, taskErr error) error
}

// Config holds loop settings.
type Config struct {
	// Mode selects the request source: "console", "poll" or "watch".
	Mode string `yaml:"mode"`
	// LockPath guards against two loops driving one desktop.
	LockPath string `yaml:"lock_path"`
}

// DefaultConfig returns loop defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode:     "poll",
		LockPath: "~/.nbpilot/loop.lock",
	}
}

// Options configures a Loop.
type Options struct {
	Source     source.Source
	SourceName string
	Companion  companion.Config
	NewRunner  RunnerFactory
	History    Recorder
	Out        io.Writer
	LockPath   string
	// OnPhase observes every phase change.
	OnPhase func(Phase)
}

// Loop dispatches requests from a source to the agent, one at a time.
type Loop struct {
	opts Options
	log  *slog.Logger

	mu    sync.Mutex
	phase Phase
}

// New creates a loop.
func New(opts Options) *Loop {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.SourceName == "" {
		opts.SourceName = "console"
	}
	return &Loop{
		opts: opts,
		log:  logging.WithComponent("loop"),
	}
}

// Phase returns the current iteration phase.
func (l *Loop) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Run takes the lock, starts the companion and serves requests until the
// source is exhausted, the context is cancelled, or a task fails. A failed
// task ends the loop after the companion has been stopped.
func (l *Loop) Run(ctx context.Context) error {
	unlock, err := l.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if seeder, ok := l.opts.Source.(source.Seeder); ok {
		seeder.Seed(ctx)
	}

	return companion.Session(ctx, l.opts.Companion, func(h *companion.Handle) error {
		runner := l.opts.NewRunner(h)
		l.log.Info("Loop ready", slog.String("source", l.opts.SourceName),
			slog.String("notebook", h.NotebookURL()))

		for {
			l.setPhase(PhaseIdle)
			l.setPhase(PhaseAwaitingRequest)

			req, err := l.opts.Source.Next(ctx)
			if errors.Is(err, io.EOF) {
				l.log.Info("Request source closed")
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					l.log.Info("Loop stopped")
					return nil
				}
				return fmt.Errorf("request source failed: %w", err)
			}

			if err := l.dispatch(ctx, runner, req); err != nil {
				return err
			}
		}
	})
}

// RunOnce runs a single task in its own companion session. It takes the same
// lock as Run.
func (l *Loop) RunOnce(ctx context.Context, text string) (string, error) {
	unlock, err := l.lock()
	if err != nil {
		return "", err
	}
	defer unlock()

	var result string
	err = companion.Session(ctx, l.opts.Companion, func(h *companion.Handle) error {
		req := source.Request{ID: uuid.NewString(), Text: text}
		var err error
		result, err = l.run(ctx, l.opts.NewRunner(h), req)
		return err
	})
	return result, err
}

func (l *Loop) dispatch(ctx context.Context, runner TaskRunner, req source.Request) error {
	result, err := l.run(ctx, runner, req)
	if err != nil {
		return fmt.Errorf("task %s: %w", req.ID, err)
	}
	printResult(l.opts.Out, req, result)
	return nil
}

func (l *Loop) run(ctx context.Context, runner TaskRunner, req source.Request) (string, error) {
	l.setPhase(PhaseDispatched)
	log := l.log.With(slog.String("request_id", req.ID))
	log.Info("Request dispatched", slog.Int("len", len(req.Text)))

	var entry *history.Entry
	if l.opts.History != nil {
		e, err := l.opts.History.Start(req.ID, req.Text, l.opts.SourceName)
		if err != nil {
			log.Warn("Failed to record task", slog.Any("error", err))
		}
		entry = e
	}

	start := time.Now()
	result, err := runner.Run(logging.ContextWithRequestID(ctx, req.ID), req.Text)

	if entry != nil {
		if ferr := l.opts.History.Finish(entry.ID, result, err); ferr != nil {
			log.Warn("Failed to record task result", slog.Any("error", ferr))
		}
	}

	if err != nil {
		l.setPhase(PhaseAborted)
		log.Error("Task aborted", slog.Any("error", err))
		return result, err
	}

	l.setPhase(PhaseCompleted)
	log.Info("Task completed", slog.Duration("duration", time.Since(start)))
	return result, nil
}

func (l *Loop) setPhase(p Phase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()

	if l.opts.OnPhase != nil {
		l.opts.OnPhase(p)
	}
}

func (l *Loop) lock() (func(), error) {
	if l.opts.LockPath == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.opts.LockPath), 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fl := flock.New(l.opts.LockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			l.log.Warn("Failed to release loop lock", slog.Any("error", err))
		}
	}, nil
}
