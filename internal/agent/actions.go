package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/alekspetrov/nbpilot/internal/logging"
)

// Built-in helper action names.
const (
	ActionSaveNotebook = "save notebook after editing"
	ActionDeleteCell   = "delete current selected cell"
)

// ActionSpec describes a helper action to the agent.
type ActionSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ActionFunc runs a helper action and returns its textual output.
type ActionFunc func(ctx context.Context) (string, error)

// KeySender presses a single key or chord such as "Escape" or "ctrl+s".
type KeySender interface {
	Press(ctx context.Context, key string) error
}

// XdotoolSender sends keys to the focused window with xdotool.
type XdotoolSender struct {
	Command string
}

// Press runs `xdotool key <key>`.
func (x XdotoolSender) Press(ctx context.Context, key string) error {
	command := x.Command
	if command == "" {
		command = "xdotool"
	}
	out, err := exec.CommandContext(ctx, command, "key", key).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s key %s: %w: %s", command, key, err, out)
	}
	return nil
}

// KeyStep is one keystroke followed by a pause.
type KeyStep struct {
	Key   string
	Delay time.Duration
}

// KeyMacro is a fixed keystroke sequence.
type KeyMacro []KeyStep

// Run presses each key in order, waiting each step's delay.
func (m KeyMacro) Run(ctx context.Context, keys KeySender) error {
	for _, step := range m {
		if err := keys.Press(ctx, step.Key); err != nil {
			return err
		}
		if step.Delay <= 0 {
			continue
		}
		timer := time.NewTimer(step.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

var (
	saveNotebookMacro = KeyMacro{
		{Key: "Escape", Delay: 500 * time.Millisecond},
		{Key: "ctrl+s", Delay: time.Second},
	}
	deleteCellMacro = KeyMacro{
		{Key: "Escape", Delay: 500 * time.Millisecond},
		{Key: "d", Delay: 100 * time.Millisecond},
		{Key: "d", Delay: 5 * time.Second},
	}
)

type registeredAction struct {
	spec ActionSpec
	fn   ActionFunc
}

// Registry maps helper action names to implementations.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]registeredAction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]registeredAction)}
}

// DefaultRegistry returns a registry with the notebook keystroke macros.
func DefaultRegistry(keys KeySender) *Registry {
	r := NewRegistry()
	r.RegisterMacro(ActionSpec{
		Name:        ActionSaveNotebook,
		Description: "save the notebook after editing a cell",
	}, saveNotebookMacro, keys)
	r.RegisterMacro(ActionSpec{
		Name:        ActionDeleteCell,
		Description: "delete the currently selected cell",
	}, deleteCellMacro, keys)
	return r
}

// Register adds or replaces an action.
func (r *Registry) Register(spec ActionSpec, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[spec.Name] = registeredAction{spec: spec, fn: fn}
}

// RegisterMacro registers a keystroke macro as an action.
func (r *Registry) RegisterMacro(spec ActionSpec, macro KeyMacro, keys KeySender) {
	name := spec.Name
	r.Register(spec, func(ctx context.Context) (string, error) {
		logging.WithComponent("agent").Info("Running helper action", slog.String("action", name))
		if err := macro.Run(ctx, keys); err != nil {
			return "", err
		}
		return name + ": done", nil
	})
}

// Specs returns the registered actions sorted by name.
func (r *Registry) Specs() []ActionSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]ActionSpec, 0, len(r.actions))
	for _, a := range r.actions {
		specs = append(specs, a.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Invoke runs the named action.
func (r *Registry) Invoke(ctx context.Context, name string) (string, error) {
	r.mu.RLock()
	a, ok := r.actions[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("unknown action %q", name)
	}
	return a.fn(ctx)
}
