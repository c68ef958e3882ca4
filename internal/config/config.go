// Package config loads the nbpilot YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/nbpilot/internal/adapters/telegram"
	"github.com/alekspetrov/nbpilot/internal/agent"
	"github.com/alekspetrov/nbpilot/internal/chinook"
	"github.com/alekspetrov/nbpilot/internal/companion"
	"github.com/alekspetrov/nbpilot/internal/logging"
	"github.com/alekspetrov/nbpilot/internal/loop"
	"github.com/alekspetrov/nbpilot/internal/relay"
	"github.com/alekspetrov/nbpilot/internal/transcription"
)

// Config represents the main configuration
type Config struct {
	Version       string                `yaml:"version"`
	Logging       *logging.Config       `yaml:"logging"`
	Relay         *relay.Config         `yaml:"relay"`
	Companion     *companion.Config     `yaml:"companion"`
	Agent         *agent.Config         `yaml:"agent"`
	Loop          *loop.Config          `yaml:"loop"`
	Telegram      *telegram.Config      `yaml:"telegram"`
	Transcription *transcription.Config `yaml:"transcription"`
	Chinook       *ChinookConfig        `yaml:"chinook"`
	History       *HistoryConfig        `yaml:"history"`
}

// ChinookConfig holds the sample database settings
type ChinookConfig struct {
	DBPath    string `yaml:"db_path"`
	ExportDir string `yaml:"export_dir"`
	// LoadLimit caps the rows loaded per table.
	LoadLimit int `yaml:"load_limit"`
	// SampleRows is the number of rows exported per table.
	SampleRows int `yaml:"sample_rows"`
}

// HistoryConfig holds task history settings
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Loop modes.
const (
	ModeConsole = "console"
	ModePoll    = "poll"
	ModeWatch   = "watch"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version:       "1.0",
		Logging:       logging.DefaultConfig(),
		Relay:         relay.DefaultConfig(),
		Companion:     companion.DefaultConfig(),
		Agent:         agent.DefaultConfig(),
		Loop:          loop.DefaultConfig(),
		Telegram:      telegram.DefaultConfig(),
		Transcription: transcription.DefaultConfig(),
		Chinook: &ChinookConfig{
			DBPath:     chinook.DefaultPath,
			ExportDir:  "chinook_exports",
			LoadLimit:  chinook.DefaultLoadLimit,
			SampleRows: chinook.SampleRows,
		},
		History: &HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(homeDir, ".nbpilot", "data"),
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err == nil {
		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.fillDefaults()
	config.applyEnv(os.Getenv)
	config.expandPaths()

	return config, nil
}

// fillDefaults restores sections a config file left out or set to null.
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.Logging == nil {
		c.Logging = def.Logging
	}
	if c.Relay == nil {
		c.Relay = def.Relay
	}
	if c.Companion == nil {
		c.Companion = def.Companion
	}
	if c.Agent == nil {
		c.Agent = def.Agent
	}
	if c.Loop == nil {
		c.Loop = def.Loop
	}
	if c.Telegram == nil {
		c.Telegram = def.Telegram
	}
	if c.Transcription == nil {
		c.Transcription = def.Transcription
	}
	if c.Chinook == nil {
		c.Chinook = def.Chinook
	}
	if c.History == nil {
		c.History = def.History
	}
}

// applyEnv lets well-known environment variables override the file.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	set(&c.Transcription.Token, "TOKEN")
	set(&c.Transcription.OpenAIAPIKey, "OPENAI_API_KEY")
	set(&c.Relay.PublicURL, "NBPILOT_RELAY_URL")
	set(&c.Relay.RedisURL, "REDIS_URL")
	set(&c.Agent.LLM.Endpoint, "AZURE_OPENAI_ENDPOINT")

	switch c.Agent.LLM.Provider {
	case "openai":
		set(&c.Agent.LLM.APIKey, "OPENAI_API_KEY")
	default:
		set(&c.Agent.LLM.APIKey, "AZURE_OPENAI_API_KEY")
	}
}

func (c *Config) expandPaths() {
	c.Relay.AudioDir = expandPath(c.Relay.AudioDir)
	c.Companion.WorkDir = expandPath(c.Companion.WorkDir)
	c.Companion.LogFile = expandPath(c.Companion.LogFile)
	c.Loop.LockPath = expandPath(c.Loop.LockPath)
	c.Chinook.DBPath = expandPath(c.Chinook.DBPath)
	c.Chinook.ExportDir = expandPath(c.Chinook.ExportDir)
	c.History.Path = expandPath(c.History.Path)
	if c.Logging.Output != "stdout" && c.Logging.Output != "stderr" {
		c.Logging.Output = expandPath(c.Logging.Output)
	}
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may hold tokens.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Redacted returns a deep copy of the config with secrets masked, for display.
func (c *Config) Redacted() (*Config, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var out Config
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy config: %w", err)
	}

	if out.Telegram != nil {
		mask(&out.Telegram.BotToken)
	}
	if out.Transcription != nil {
		mask(&out.Transcription.Token)
		mask(&out.Transcription.OpenAIAPIKey)
	}
	if out.Agent != nil {
		mask(&out.Agent.LLM.APIKey)
	}
	return &out, nil
}

func mask(s *string) {
	if *s == "" {
		return
	}
	if len(*s) <= 8 {
		*s = "****"
		return
	}
	*s = (*s)[:4] + "****"
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".nbpilot", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Relay == nil || c.Companion == nil || c.Agent == nil || c.Loop == nil ||
		c.Transcription == nil || c.Telegram == nil {
		return fmt.Errorf("incomplete configuration")
	}

	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("invalid relay port: %d", c.Relay.Port)
	}
	switch c.Relay.Store {
	case "", "memory":
	case "redis":
		if c.Relay.RedisURL == "" {
			return fmt.Errorf("relay.redis_url is required when relay.store is redis")
		}
	default:
		return fmt.Errorf("invalid relay store %q (must be memory or redis)", c.Relay.Store)
	}
	if c.Relay.AudioRetention < 0 {
		return fmt.Errorf("relay.audio_retention must not be negative")
	}

	if c.Companion.Command == "" {
		return fmt.Errorf("companion.command is required")
	}
	if c.Companion.Port < 1 || c.Companion.Port > 65535 {
		return fmt.Errorf("invalid companion port: %d", c.Companion.Port)
	}
	if c.Companion.Warmup < 0 || c.Companion.StopTimeout < 0 {
		return fmt.Errorf("companion durations must not be negative")
	}

	if c.Agent.Command == "" {
		return fmt.Errorf("agent.command is required")
	}
	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("agent.max_steps must be at least 1, got %d", c.Agent.MaxSteps)
	}
	if c.Agent.MaxFailures < 1 {
		return fmt.Errorf("agent.max_failures must be at least 1, got %d", c.Agent.MaxFailures)
	}
	switch c.Agent.LLM.Provider {
	case "azure", "openai":
	default:
		return fmt.Errorf("invalid llm provider %q (must be azure or openai)", c.Agent.LLM.Provider)
	}

	switch c.Loop.Mode {
	case ModeConsole, ModePoll, ModeWatch:
	default:
		return fmt.Errorf("invalid loop mode %q (must be console, poll or watch)", c.Loop.Mode)
	}

	switch c.Transcription.Backend {
	case "", transcription.BackendWhisperX, transcription.BackendWhisperAPI, transcription.BackendAuto:
	default:
		return fmt.Errorf("invalid transcription backend %q", c.Transcription.Backend)
	}
	if c.Transcription.Timeout < 0 {
		return fmt.Errorf("transcription.timeout must not be negative")
	}

	if c.Telegram.PollTimeout < 0 {
		return fmt.Errorf("telegram.poll_timeout must not be negative")
	}
	return nil
}
