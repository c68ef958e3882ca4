package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alekspetrov/nbpilot/internal/logging"
)

// Protocol message types exchanged with the agent process over JSON lines.
const (
	MsgTask         = "task"
	MsgStep         = "step"
	MsgAction       = "action"
	MsgActionResult = "action_result"
	MsgResult       = "result"
	MsgError        = "error"
)

// taskMessage is the single line written to the agent's stdin.
type taskMessage struct {
	Type string    `json:"type"`
	LLM  LLMConfig `json:"llm"`
	Task
}

// Event is one line read from the agent's stdout.
type Event struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	Step        int    `json:"step,omitempty"`
	Name        string `json:"name,omitempty"`
	Message     string `json:"message,omitempty"`
	Success     bool   `json:"success,omitempty"`
	FinalResult string `json:"final_result,omitempty"`
	Steps       int    `json:"steps,omitempty"`
}

// actionReply answers an action event.
type actionReply struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// CommandAgent runs the automation agent as a child process per task. The
// process reads one task line from stdin, writes events to stdout, and may
// request helper actions, which are answered on stdin. Stdin is closed once
// a result or error event arrives.
type CommandAgent struct {
	config   *Config
	registry *Registry
	log      *slog.Logger

	// EventHandler, when set, receives every event the agent emits.
	EventHandler func(Event)
}

// NewCommandAgent creates an agent backed by cfg.Command.
func NewCommandAgent(cfg *Config, registry *Registry) *CommandAgent {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &CommandAgent{
		config:   cfg,
		registry: registry,
		log:      logging.WithComponent("agent"),
	}
}

// IsAvailable checks if the agent command is installed.
func (a *CommandAgent) IsAvailable() bool {
	_, err := exec.LookPath(a.config.Command)
	return err == nil
}

// Run starts the agent, sends the task, serves helper action requests and
// waits for the result event.
func (a *CommandAgent) Run(ctx context.Context, task Task) (*Result, error) {
	cmd := exec.CommandContext(ctx, a.config.Command, a.config.Args...)
	cmd.Env = append(os.Environ(), a.config.LLM.Env()...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent: %w", err)
	}
	a.log.Debug("Agent started", slog.Int("pid", cmd.Process.Pid))
	start := time.Now()

	cmdDone := make(chan struct{})
	go a.watchCancel(ctx, cmd, cmdDone)

	var stderrOutput strings.Builder
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrOutput.WriteString(scanner.Text() + "\n")
		}
	}()

	enc := json.NewEncoder(stdin)
	if err := enc.Encode(taskMessage{Type: MsgTask, LLM: a.config.LLM, Task: task}); err != nil {
		a.log.Warn("Failed to send task", slog.Any("error", err))
	}

	var result *Result
	var failure string
	var closeOnce sync.Once
	closeStdin := func() { closeOnce.Do(func() { _ = stdin.Close() }) }

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			a.log.Debug("Agent output", slog.String("line", string(line)))
			continue
		}
		if a.EventHandler != nil {
			a.EventHandler(ev)
		}

		switch ev.Type {
		case MsgStep:
			a.log.Info("Agent step", slog.Int("step", ev.Step), slog.String("message", ev.Message))
		case MsgAction:
			a.reply(ctx, enc, ev)
		case MsgResult:
			result = &Result{FinalResult: ev.FinalResult, Steps: ev.Steps, Success: ev.Success}
			closeStdin()
		case MsgError:
			failure = ev.Message
			closeStdin()
		}
	}

	closeStdin()
	// Drain anything left so the process is not blocked on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)
	wg.Wait()

	waitErr := cmd.Wait()
	close(cmdDone)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if failure != "" {
		return nil, fmt.Errorf("%w: %s", ErrTaskFailed, failure)
	}
	if result == nil {
		detail := strings.TrimSpace(stderrOutput.String())
		if waitErr != nil {
			return nil, fmt.Errorf("%w: %v: %s", ErrNoResult, waitErr, detail)
		}
		return nil, ErrNoResult
	}
	if waitErr != nil {
		a.log.Warn("Agent exited with error after result", slog.Any("error", waitErr))
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (a *CommandAgent) reply(ctx context.Context, enc *json.Encoder, ev Event) {
	out := actionReply{Type: MsgActionResult, ID: ev.ID, OK: true}

	output, err := a.registry.Invoke(ctx, ev.Name)
	if err != nil {
		out.OK = false
		out.Error = err.Error()
		a.log.Warn("Helper action failed", slog.String("action", ev.Name), slog.Any("error", err))
	} else {
		out.Output = output
	}

	if err := enc.Encode(out); err != nil {
		a.log.Warn("Failed to answer action", slog.String("action", ev.Name), slog.Any("error", err))
	}
}

// watchCancel kills the agent if it has not exited one grace period after
// the context is cancelled.
func (a *CommandAgent) watchCancel(ctx context.Context, cmd *exec.Cmd, cmdDone <-chan struct{}) {
	select {
	case <-cmdDone:
		return
	case <-ctx.Done():
	}

	grace := a.config.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	a.log.Warn("Context cancelled, waiting grace period before hard kill",
		slog.Int("pid", cmd.Process.Pid), slog.Duration("grace_period", grace))

	select {
	case <-cmdDone:
		return
	case <-time.After(grace):
	}

	a.log.Warn("Grace period expired, sending SIGKILL", slog.Int("pid", cmd.Process.Pid))
	if err := cmd.Process.Kill(); err != nil {
		a.log.Error("Failed to kill agent", slog.Int("pid", cmd.Process.Pid), slog.Any("error", err))
	}
}

// Env returns the environment variables that carry LLM credentials to the
// agent process.
func (c LLMConfig) Env() []string {
	var env []string
	add := func(k, v string) {
		if v != "" {
			env = append(env, k+"="+v)
		}
	}

	add("NBPILOT_LLM_PROVIDER", c.Provider)
	add("NBPILOT_LLM_MODEL", c.Model)
	switch c.Provider {
	case "openai":
		add("OPENAI_API_KEY", c.APIKey)
		add("OPENAI_BASE_URL", c.Endpoint)
	default:
		add("AZURE_OPENAI_API_KEY", c.APIKey)
		add("AZURE_OPENAI_ENDPOINT", c.Endpoint)
		add("AZURE_OPENAI_DEPLOYMENT", c.Deployment)
		add("OPENAI_API_VERSION", c.APIVersion)
	}
	return env
}
