// Package agent dispatches natural-language tasks to the external browser
// automation agent and returns its final result.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alekspetrov/nbpilot/internal/logging"
)

var (
	// ErrTaskFailed is returned when the agent reports failure or exhausts
	// its step or failure budget.
	ErrTaskFailed = errors.New("agent task failed")
	// ErrNoResult is returned when the agent exits without a result event.
	ErrNoResult = errors.New("agent returned no result")
)

// Agent runs one task to completion.
type Agent interface {
	Run(ctx context.Context, task Task) (*Result, error)
}

// Task is the work handed to the agent.
type Task struct {
	Prompt      string       `json:"task"`
	MaxSteps    int          `json:"max_steps"`
	MaxFailures int          `json:"max_failures"`
	Actions     []ActionSpec `json:"actions,omitempty"`
}

// Result is the agent's report for a finished task.
type Result struct {
	FinalResult string        `json:"final_result"`
	Steps       int           `json:"steps"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"-"`
}

// LLMConfig selects the model the agent drives the browser with.
type LLMConfig struct {
	// Provider is "azure" or "openai".
	Provider   string `json:"provider" yaml:"provider"`
	Model      string `json:"model" yaml:"model"`
	Deployment string `json:"deployment,omitempty" yaml:"deployment"`
	APIVersion string `json:"api_version,omitempty" yaml:"api_version"`
	Endpoint   string `json:"endpoint,omitempty" yaml:"endpoint"`
	// APIKey only reaches the agent through its environment.
	APIKey string `json:"-" yaml:"api_key"`
}

// Config holds agent settings.
type Config struct {
	// Command is the automation agent executable.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// MaxSteps is the agent's step budget per task.
	MaxSteps int `yaml:"max_steps"`
	// MaxFailures is how many consecutive failures the agent may retry.
	MaxFailures int `yaml:"max_failures"`
	// GracePeriod is how long a cancelled agent may take to exit before it
	// is killed.
	GracePeriod time.Duration `yaml:"grace_period"`
	// KeyCommand is the keystroke tool used by helper actions.
	KeyCommand string    `yaml:"key_command"`
	LLM        LLMConfig `yaml:"llm"`
}

// DefaultConfig returns agent defaults.
func DefaultConfig() *Config {
	return &Config{
		Command:     "nbpilot-agent",
		MaxSteps:    10,
		MaxFailures: 3,
		GracePeriod: 5 * time.Second,
		KeyCommand:  "xdotool",
		LLM: LLMConfig{
			Provider:   "azure",
			Model:      "gpt-4.1",
			Deployment: "gpt-4.1",
			APIVersion: "2024-12-01-preview",
		},
	}
}

// Runner builds the full prompt for a request and dispatches it.
type Runner struct {
	agent       Agent
	registry    *Registry
	notebook    Notebook
	maxSteps    int
	maxFailures int
	log         *slog.Logger
}

// NewRunner creates a runner that targets nb.
func NewRunner(a Agent, registry *Registry, nb Notebook, cfg *Config) *Runner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Runner{
		agent:       a,
		registry:    registry,
		notebook:    nb,
		maxSteps:    cfg.MaxSteps,
		maxFailures: cfg.MaxFailures,
		log:         logging.WithComponent("agent"),
	}
}

// Task builds the task for text without running it.
func (r *Runner) Task(text string) Task {
	actions := r.registry.Specs()
	return Task{
		Prompt:      BuildPrompt(Preamble(r.notebook, actions), text),
		MaxSteps:    r.maxSteps,
		MaxFailures: r.maxFailures,
		Actions:     actions,
	}
}

// Run dispatches text and blocks until the agent finishes. Agent errors are
// returned unchanged to the caller.
func (r *Runner) Run(ctx context.Context, text string) (string, error) {
	task := r.Task(text)

	r.log.Info("Dispatching task", slog.Int("max_steps", task.MaxSteps), slog.Int("len", len(text)))
	start := time.Now()

	res, err := r.agent.Run(ctx, task)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", ErrNoResult
	}
	if !res.Success {
		return res.FinalResult, fmt.Errorf("%w: %s", ErrTaskFailed, res.FinalResult)
	}

	r.log.Info("Task completed", slog.Int("steps", res.Steps), slog.Duration("duration", time.Since(start)))
	return res.FinalResult, nil
}
