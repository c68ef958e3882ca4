package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeAgent struct {
	tasks  []Task
	result *Result
	err    error
}

func (f *fakeAgent) Run(ctx context.Context, task Task) (*Result, error) {
	f.tasks = append(f.tasks, task)
	return f.result, f.err
}

type recordingKeys struct {
	keys []string
	err  error
}

func (r *recordingKeys) Press(ctx context.Context, key string) error {
	r.keys = append(r.keys, key)
	return r.err
}

func TestRunnerBuildsPrompt(t *testing.T) {
	fa := &fakeAgent{result: &Result{FinalResult: "Rock", Success: true, Steps: 4}}
	reg := DefaultRegistry(&recordingKeys{})
	r := NewRunner(fa, reg, Notebook{URL: "http://127.0.0.1:8889/lab/tree/eda_notebook.ipynb", Name: "eda_notebook.ipynb"}, nil)

	got, err := r.Run(t.Context(), "Which genre has the longest tracks?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != "Rock" {
		t.Errorf("Run() = %q, want Rock", got)
	}

	if len(fa.tasks) != 1 {
		t.Fatalf("agent called %d times, want 1", len(fa.tasks))
	}
	task := fa.tasks[0]
	if !strings.HasSuffix(task.Prompt, "Which genre has the longest tracks?") {
		t.Error("prompt should end with the request text")
	}
	for _, want := range []string{
		"http://127.0.0.1:8889/lab/tree/eda_notebook.ipynb",
		"track_sample.csv",
		"ctrl + enter",
		ActionDeleteCell,
		ActionSaveNotebook,
	} {
		if !strings.Contains(task.Prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if task.MaxSteps != 10 || task.MaxFailures != 3 {
		t.Errorf("budgets = %d/%d, want 10/3", task.MaxSteps, task.MaxFailures)
	}
	if len(task.Actions) != 2 {
		t.Errorf("Actions = %v, want 2 built-ins", task.Actions)
	}
}

func TestRunnerPropagatesErrors(t *testing.T) {
	boom := errors.New("browser crashed")

	tests := []struct {
		name    string
		agent   *fakeAgent
		wantErr error
	}{
		{"agent error unchanged", &fakeAgent{err: boom}, boom},
		{"unsuccessful result", &fakeAgent{result: &Result{FinalResult: "gave up"}}, ErrTaskFailed},
		{"nil result", &fakeAgent{}, ErrNoResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(tt.agent, nil, Notebook{URL: "http://localhost"}, nil)
			if _, err := r.Run(t.Context(), "x"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Run() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPreambleWithoutActions(t *testing.T) {
	p := Preamble(Notebook{URL: "http://h:1/lab/tree/eda_notebook.ipynb", Name: "eda_notebook.ipynb"}, nil)
	if strings.Contains(p, "Helper actions") {
		t.Error("preamble should omit the action catalog when empty")
	}
	if !strings.Contains(p, "eda_notebook.ipynb (this notebook)") {
		t.Error("preamble should list the notebook")
	}
}

func TestPreambleNotebookName(t *testing.T) {
	tests := []struct {
		name     string
		nb       Notebook
		want     string
		unwanted string
	}{
		{
			name:     "configured notebook",
			nb:       Notebook{URL: "http://h:1/lab/tree/music.ipynb", Name: "music.ipynb"},
			want:     "  music.ipynb (this notebook)\n",
			unwanted: "eda_notebook.ipynb",
		},
		{
			name:     "no notebook",
			nb:       Notebook{URL: "http://h:1/lab"},
			want:     "running at http://h:1/lab.",
			unwanted: "(this notebook)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Preamble(tt.nb, nil)
			if !strings.Contains(p, tt.want) {
				t.Errorf("preamble missing %q", tt.want)
			}
			if strings.Contains(p, tt.unwanted) {
				t.Errorf("preamble should not contain %q", tt.unwanted)
			}
		})
	}
}

func TestBuiltinMacros(t *testing.T) {
	tests := []struct {
		name  string
		macro KeyMacro
		keys  []string
		total time.Duration
	}{
		{"delete cell", deleteCellMacro, []string{"Escape", "d", "d"}, 5600 * time.Millisecond},
		{"save notebook", saveNotebookMacro, []string{"Escape", "ctrl+s"}, 1500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var keys []string
			var total time.Duration
			for _, step := range tt.macro {
				keys = append(keys, step.Key)
				total += step.Delay
			}
			if strings.Join(keys, ",") != strings.Join(tt.keys, ",") {
				t.Errorf("keys = %v, want %v", keys, tt.keys)
			}
			if total != tt.total {
				t.Errorf("total delay = %v, want %v", total, tt.total)
			}
		})
	}
}

func TestKeyMacroRun(t *testing.T) {
	keys := &recordingKeys{}
	m := KeyMacro{{Key: "Escape"}, {Key: "b", Delay: time.Millisecond}}

	if err := m.Run(t.Context(), keys); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Join(keys.keys, ",") != "Escape,b" {
		t.Errorf("pressed %v", keys.keys)
	}
}

func TestKeyMacroStopsOnError(t *testing.T) {
	keys := &recordingKeys{err: errors.New("no display")}
	m := KeyMacro{{Key: "Escape"}, {Key: "d"}}

	if err := m.Run(t.Context(), keys); err == nil {
		t.Fatal("Run() should fail")
	}
	if len(keys.keys) != 1 {
		t.Errorf("pressed %d keys after failure, want 1", len(keys.keys))
	}
}

func TestKeyMacroCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	m := KeyMacro{{Key: "Escape", Delay: time.Minute}}
	if err := m.Run(ctx, &recordingKeys{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ActionSpec{Name: "b"}, func(ctx context.Context) (string, error) { return "B", nil })
	reg.Register(ActionSpec{Name: "a"}, func(ctx context.Context) (string, error) { return "A", nil })

	specs := reg.Specs()
	if len(specs) != 2 || specs[0].Name != "a" || specs[1].Name != "b" {
		t.Errorf("Specs() = %v, want sorted a,b", specs)
	}

	out, err := reg.Invoke(t.Context(), "b")
	if err != nil || out != "B" {
		t.Errorf("Invoke(b) = %q, %v", out, err)
	}
	if _, err := reg.Invoke(t.Context(), "zzz"); err == nil {
		t.Error("Invoke() of unknown action should fail")
	}
}
