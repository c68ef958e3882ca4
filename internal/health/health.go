// Package health reports which external tools and credentials nbpilot can
// find, for `nbpilot doctor`.
package health

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/alekspetrov/nbpilot/internal/config"
)

// Status represents feature or dependency status
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusDisabled
)

// Check represents a dependency check result
type Check struct {
	Name     string
	Status   Status
	Message  string
	Fix      string
	Required bool // the relay loop cannot start without it
}

// ConfigCheck is a check of a configured path or credential.
type ConfigCheck struct {
	Name    string
	Status  Status
	Message string
	Fix     string
}

// FeatureStatus represents a feature with its availability
type FeatureStatus struct {
	Name    string
	Enabled bool
	Status  Status
	Note    string
}

// HealthReport contains all health check results
type HealthReport struct {
	Dependencies []Check
	Config       []ConfigCheck
	Features     []FeatureStatus
	HasErrors    bool
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// RunChecks performs all health checks based on config
func RunChecks(cfg *config.Config) *HealthReport {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	report := &HealthReport{
		Dependencies: checkDependencies(cfg),
		Config:       checkConfig(cfg),
		Features:     checkFeatures(cfg),
	}
	errs, _ := report.Summary()
	report.HasErrors = errs > 0
	return report
}

// checkDependencies checks the executables the loop and the bot call
func checkDependencies(cfg *config.Config) []Check {
	var checks []Check

	companionCmd := "jupyter-lab"
	if cfg.Companion != nil && cfg.Companion.Command != "" {
		companionCmd = cfg.Companion.Command
	}
	checks = append(checks, commandCheck(companionCmd, true, StatusError, "pip install jupyterlab"))

	agentCmd := "nbpilot-agent"
	if cfg.Agent != nil && cfg.Agent.Command != "" {
		agentCmd = cfg.Agent.Command
	}
	checks = append(checks, commandCheck(agentCmd, true, StatusError, "install the browser agent and set agent.command"))

	keyCmd := "xdotool"
	if cfg.Agent != nil && cfg.Agent.KeyCommand != "" {
		keyCmd = cfg.Agent.KeyCommand
	}
	checks = append(checks, commandCheck(keyCmd, false, StatusWarning, "apt install xdotool"))

	ffmpeg := "ffmpeg"
	if cfg.Transcription != nil && cfg.Transcription.FFmpegPath != "" {
		ffmpeg = cfg.Transcription.FFmpegPath
	}
	check := commandCheck(ffmpeg, false, StatusWarning, "apt install ffmpeg")
	if check.Status != StatusOK {
		check.Message = "not found (voice disabled)"
	}
	checks = append(checks, check)

	return checks
}

func commandCheck(name string, required bool, missing Status, fix string) Check {
	if !commandExists(name) {
		return Check{Name: name, Status: missing, Message: "not found", Fix: fix, Required: required}
	}
	msg := "installed"
	if version := getCommandVersion(name, "--version"); version != "" {
		msg = version
	}
	return Check{Name: name, Status: StatusOK, Message: msg, Required: required}
}

// checkConfig checks configured paths
func checkConfig(cfg *config.Config) []ConfigCheck {
	var checks []ConfigCheck

	if cfg.Companion != nil {
		workDir := expandPath(cfg.Companion.WorkDir)
		switch {
		case workDir == "":
			checks = append(checks, ConfigCheck{Name: "work dir", Status: StatusOK, Message: "current directory"})
		case !isDir(workDir):
			checks = append(checks, ConfigCheck{
				Name:    "work dir",
				Status:  StatusWarning,
				Message: workDir + " not found",
				Fix:     "nbpilot chinook export",
			})
		default:
			checks = append(checks, ConfigCheck{Name: "work dir", Status: StatusOK, Message: workDir})
			if nb := cfg.Companion.Notebook; nb != "" && !fileExists(filepath.Join(workDir, nb)) {
				checks = append(checks, ConfigCheck{
					Name:    "notebook",
					Status:  StatusWarning,
					Message: nb + " not found in " + workDir,
					Fix:     "create the notebook the agent should edit",
				})
			}
		}
	}

	if cfg.Chinook != nil {
		db := expandPath(cfg.Chinook.DBPath)
		if fileExists(db) {
			checks = append(checks, ConfigCheck{Name: "chinook db", Status: StatusOK, Message: db})
		} else {
			checks = append(checks, ConfigCheck{
				Name:    "chinook db",
				Status:  StatusWarning,
				Message: db + " not found",
				Fix:     "git clone https://github.com/lerocha/chinook-database",
			})
		}
	}

	if cfg.Agent != nil && cfg.Agent.LLM.APIKey == "" {
		env := "AZURE_OPENAI_API_KEY"
		if cfg.Agent.LLM.Provider == "openai" {
			env = "OPENAI_API_KEY"
		}
		checks = append(checks, ConfigCheck{
			Name:    "llm credentials",
			Status:  StatusError,
			Message: "no API key",
			Fix:     "export " + env,
		})
	} else if cfg.Agent != nil {
		checks = append(checks, ConfigCheck{Name: "llm credentials", Status: StatusOK, Message: cfg.Agent.LLM.Provider})
	}

	return checks
}

// checkFeatures checks feature availability
func checkFeatures(cfg *config.Config) []FeatureStatus {
	var features []FeatureStatus

	// Telegram
	telegramEnabled := cfg.Telegram != nil && cfg.Telegram.BotToken != ""
	telegram := FeatureStatus{
		Name:    "Telegram",
		Enabled: telegramEnabled,
		Status:  boolToStatus(telegramEnabled),
	}
	if !telegramEnabled {
		telegram.Note = "no TELEGRAM_BOT_TOKEN"
	}
	features = append(features, telegram)

	// Voice transcription
	voice := FeatureStatus{Name: "Voice"}
	ffmpeg := "ffmpeg"
	if cfg.Transcription != nil && cfg.Transcription.FFmpegPath != "" {
		ffmpeg = cfg.Transcription.FFmpegPath
	}
	hasToken := cfg.Transcription != nil && (cfg.Transcription.Token != "" || cfg.Transcription.OpenAIAPIKey != "")
	switch {
	case !commandExists(ffmpeg):
		voice.Status = StatusWarning
		voice.Note = "no ffmpeg"
	case !hasToken:
		voice.Status = StatusWarning
		voice.Note = "no transcription token"
	default:
		voice.Enabled = true
		voice.Status = StatusOK
		voice.Note = cfg.Transcription.Backend
	}
	features = append(features, voice)

	// Relay store
	redis := cfg.Relay != nil && cfg.Relay.Store == "redis"
	store := FeatureStatus{Name: "Redis store", Enabled: redis, Status: boolToStatus(redis)}
	if redis {
		store.Note = cfg.Relay.RedisURL
	}
	features = append(features, store)

	// History
	history := cfg.History != nil && cfg.History.Enabled
	features = append(features, FeatureStatus{
		Name:    "History",
		Enabled: history,
		Status:  boolToStatus(history),
	})

	return features
}

// Summary counts errors and warnings across dependencies and config checks.
func (r *HealthReport) Summary() (errors, warnings int) {
	count := func(s Status) {
		switch s {
		case StatusError:
			errors++
		case StatusWarning:
			warnings++
		}
	}
	for _, c := range r.Dependencies {
		count(c.Status)
	}
	for _, c := range r.Config {
		count(c.Status)
	}
	return errors, warnings
}

// ReadyToStart reports whether every required dependency is present.
func (r *HealthReport) ReadyToStart() bool {
	for _, c := range r.Dependencies {
		if c.Required && c.Status == StatusError {
			return false
		}
	}
	return true
}

// getCommandVersion runs a command and returns its version string
func getCommandVersion(cmd string, args ...string) string {
	out, err := exec.Command(cmd, args...).Output()
	if err != nil {
		return ""
	}
	version := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	// Extract just version number if possible
	if strings.Contains(version, " ") {
		for _, p := range strings.Fields(version) {
			if strings.Contains(p, ".") && strings.IndexAny(p, "0123456789") >= 0 {
				return p
			}
		}
	}
	return version
}

// commandExists checks if a command exists in PATH
func commandExists(cmd string) bool {
	_, err := lookPath(cmd)
	return err == nil
}

// boolToStatus converts bool to Status
func boolToStatus(enabled bool) Status {
	if enabled {
		return StatusOK
	}
	return StatusDisabled
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Symbol returns the symbol for a status
func (s Status) Symbol() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarning:
		return "○"
	case StatusError:
		return "✗"
	case StatusDisabled:
		return "·"
	default:
		return "?"
	}
}

var statusColors = map[Status]lipgloss.Color{
	StatusOK:       lipgloss.Color("42"),
	StatusWarning:  lipgloss.Color("214"),
	StatusError:    lipgloss.Color("196"),
	StatusDisabled: lipgloss.Color("245"),
}

// ColorSymbol returns the symbol styled for the terminal.
func (s Status) ColorSymbol() string {
	color, ok := statusColors[s]
	if !ok {
		return s.Symbol()
	}
	return lipgloss.NewStyle().Foreground(color).Render(s.Symbol())
}
