// Package companion manages the local notebook server the automation agent
// drives: launch, warm-up, and guaranteed termination.
package companion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alekspetrov/nbpilot/internal/logging"
)

// ErrNotStarted is returned when an operation needs a launched process.
var ErrNotStarted = errors.New("companion process not started")

// Config holds companion process settings.
type Config struct {
	// Command is the executable to launch.
	Command string `yaml:"command"`
	// Args replaces the default notebook-server flags when set.
	Args []string `yaml:"args"`
	// ExtraArgs are appended to the default flags.
	ExtraArgs []string `yaml:"extra_args"`
	Host      string   `yaml:"host"`
	Port      int      `yaml:"port"`
	// WorkDir is the directory the server is started in (the sample data).
	WorkDir string `yaml:"work_dir"`
	// Notebook is the notebook path opened by the agent, relative to WorkDir.
	Notebook string `yaml:"notebook"`
	// Warmup is the fixed delay before the server is considered ready.
	Warmup time.Duration `yaml:"warmup"`
	// StopTimeout is how long a graceful stop may take before a kill.
	StopTimeout time.Duration `yaml:"stop_timeout"`
	// LogFile receives the server's output; empty discards it.
	LogFile string `yaml:"log_file"`
}

// DefaultConfig returns the jupyter-lab defaults.
func DefaultConfig() *Config {
	return &Config{
		Command:     "jupyter-lab",
		Host:        "127.0.0.1",
		Port:        8889,
		WorkDir:     "chinook_exports",
		Notebook:    "eda_notebook.ipynb",
		Warmup:      5 * time.Second,
		StopTimeout: 5 * time.Second,
	}
}

// BuildArgs returns the command line flags: no browser, token and password
// authentication disabled, fixed port.
func (c *Config) BuildArgs() []string {
	if len(c.Args) > 0 {
		return append([]string(nil), c.Args...)
	}
	args := []string{
		"--port", strconv.Itoa(c.Port),
		"--no-browser",
		"--NotebookApp.token=",
		"--NotebookApp.password=",
		"--ServerApp.token=",
		"--ServerApp.password=",
	}
	return append(args, c.ExtraArgs...)
}

// URL returns the server's base URL.
func (c *Config) URL() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// NotebookURL returns the URL the agent should open.
func (c *Config) NotebookURL() string {
	if c.Notebook == "" {
		return c.URL() + "/lab"
	}
	return c.URL() + "/lab/tree/" + strings.TrimPrefix(c.Notebook, "/")
}

// Handle is a launched companion process.
type Handle struct {
	cfg    Config
	cmd    *exec.Cmd
	output io.Closer
	done   chan struct{}
	log    *slog.Logger

	mu          sync.Mutex
	state       State
	transitions []State
	killed      bool
	waitErr     error

	stopMu sync.Mutex
}

// Start launches the companion process and waits the warm-up delay. There is
// no readiness probe: a server that fails after launch shows up later as
// connection errors in the agent.
func Start(ctx context.Context, cfg Config) (*Handle, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("companion command is empty")
	}

	log := logging.WithComponent("companion")

	// Not CommandContext: cancellation must go through the graceful stop.
	cmd := exec.Command(cfg.Command, cfg.BuildArgs()...)
	cmd.Dir = cfg.WorkDir
	setProcessGroup(cmd)

	var output io.Closer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open companion log: %w", err)
		}
		cmd.Stdout = f
		cmd.Stderr = f
		output = f
	}

	h := &Handle{
		cfg:         cfg,
		cmd:         cmd,
		output:      output,
		done:        make(chan struct{}),
		log:         log,
		state:       StateStarting,
		transitions: []State{StateStarting},
	}

	log.Info("Starting companion", slog.String("command", cfg.Command), slog.Int("port", cfg.Port),
		slog.String("dir", cfg.WorkDir))

	if err := cmd.Start(); err != nil {
		if output != nil {
			_ = output.Close()
		}
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Command, err)
	}

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()
		close(h.done)
	}()

	timer := time.NewTimer(cfg.Warmup)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		_ = h.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}

	if !h.Alive() {
		log.Warn("Companion exited during warm-up", slog.Int("pid", h.PID()), slog.Any("error", h.ExitErr()))
	}

	h.transition(StateReady)
	log.Info("Companion started", slog.Int("pid", h.PID()), slog.String("url", cfg.URL()))
	return h, nil
}

// Session starts a companion, runs fn with it, and stops the companion on
// every exit path, including errors and panics in fn.
func Session(ctx context.Context, cfg Config, fn func(h *Handle) error) (err error) {
	h, err := Start(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := h.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	h.MarkRunning()
	return fn(h)
}

// PID returns the process id.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// URL returns the server base URL.
func (h *Handle) URL() string {
	return h.cfg.URL()
}

// Notebook returns the configured notebook path.
func (h *Handle) Notebook() string {
	return h.cfg.Notebook
}

// NotebookURL returns the notebook URL handed to the agent.
func (h *Handle) NotebookURL() string {
	return h.cfg.NotebookURL()
}

// State returns the current liveness state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Transitions returns every state the handle has been in, in order.
func (h *Handle) Transitions() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.transitions...)
}

// Killed reports whether the process had to be force-killed.
func (h *Handle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the process exit error once it has exited.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// MarkRunning records that the companion is in use.
func (h *Handle) MarkRunning() {
	h.transition(StateRunning)
}

// Stop terminates the process: SIGTERM to its process group, then SIGKILL
// after StopTimeout. It is idempotent and succeeds when the process already
// exited.
func (h *Handle) Stop() error {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()

	if h.State() == StateStopped {
		return nil
	}
	h.transition(StateStopping)
	defer h.closeOutput()

	if !h.Alive() {
		h.transition(StateStopped)
		h.log.Debug("Companion already exited", slog.Int("pid", h.PID()))
		return nil
	}

	h.log.Info("Stopping companion", slog.Int("pid", h.PID()))
	if err := terminate(h.cmd.Process); err != nil {
		h.log.Debug("Terminate signal failed", slog.Int("pid", h.PID()), slog.Any("error", err))
	}

	timeout := h.cfg.StopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-h.done:
		h.log.Info("Companion stopped", slog.Int("pid", h.PID()))
	case <-time.After(timeout):
		h.log.Warn("Companion did not stop, killing", slog.Int("pid", h.PID()),
			slog.Duration("timeout", timeout))
		h.mu.Lock()
		h.killed = true
		h.mu.Unlock()
		if err := kill(h.cmd.Process); err != nil {
			h.log.Error("Failed to kill companion", slog.Int("pid", h.PID()), slog.Any("error", err))
		}
		select {
		case <-h.done:
		case <-time.After(timeout):
			return fmt.Errorf("companion %d did not exit after kill", h.PID())
		}
	}

	h.transition(StateStopped)
	return nil
}

func (h *Handle) transition(to State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !validTransition(h.state, to) {
		return
	}
	h.state = to
	h.transitions = append(h.transitions, to)
}

func (h *Handle) closeOutput() {
	if h.output != nil {
		_ = h.output.Close()
		h.output = nil
	}
}
