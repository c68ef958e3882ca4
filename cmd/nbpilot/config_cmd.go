package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/nbpilot/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage nbpilot configuration",
		Long: `Create, view, edit, and validate the nbpilot configuration.

Subcommands:
  init         Write a configuration file with default values
  show         Show the effective configuration (secrets masked)
  edit         Open config file in editor
  validate     Validate configuration
  path         Show config file path

Configuration File Location:
  Default: ~/.nbpilot/config.yaml
  Override with --config flag`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigEditCmd(),
		newConfigValidateCmd(),
		newConfigPathCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}

			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", okStyle.Render("✓"), path)
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Secrets can stay in the environment: TELEGRAM_BOT_TOKEN, TOKEN, OPENAI_API_KEY, AZURE_OPENAI_API_KEY"))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long: `Display the effective configuration: the config file merged with
defaults and environment overrides. Tokens and API keys are masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg, err = cfg.Redacted()
			if err != nil {
				return err
			}

			var data []byte
			if outputJSON {
				data, err = json.MarshalIndent(cfg, "", "  ")
				data = append(data, '\n')
			} else {
				data, err = yaml.Marshal(cfg)
			}
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")

	return cmd
}

func newConfigEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Open config in editor",
		Long: `Open the configuration file in $EDITOR ($VISUAL, vim, nano or vi as
fallbacks) and validate it afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath()

			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintf(out, "Config file does not exist at %s\n", path)
				fmt.Fprintln(out, "Run 'nbpilot config init' to create one.")
				return nil
			}

			editor := findEditor()
			if editor == "" {
				return fmt.Errorf("no editor found. Set $EDITOR environment variable")
			}

			editorCmd := exec.Command(editor, path)
			editorCmd.Stdin = os.Stdin
			editorCmd.Stdout = os.Stdout
			editorCmd.Stderr = os.Stderr
			if err := editorCmd.Run(); err != nil {
				return fmt.Errorf("editor exited with error: %w", err)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Validating configuration...")
			cfg, err := config.Load(path)
			if err != nil {
				fmt.Fprintf(out, "Warning: Failed to load config: %v\n", err)
				return nil
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "Warning: Config validation failed: %v\n", err)
				return nil
			}
			fmt.Fprintln(out, "Configuration is valid!")
			return nil
		},
	}
}

func findEditor() string {
	for _, env := range []string{"EDITOR", "VISUAL"} {
		if e := os.Getenv(env); e != "" {
			return e
		}
	}
	for _, e := range []string{"vim", "nano", "vi"} {
		if _, err := exec.LookPath(e); err == nil {
			return e
		}
	}
	return ""
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long: `Load the configuration with defaults and environment overrides applied
and check it. Exits with code 1 on a validation failure.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			for _, w := range configWarnings(cfg) {
				fmt.Fprintf(out, "! %s\n", w)
			}
			fmt.Fprintf(out, "%s Configuration is valid\n", okStyle.Render("✓"))
			return nil
		},
	}
}

// configWarnings flags settings that are valid but leave features disabled.
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if cfg.Telegram.BotToken == "" {
		warnings = append(warnings, "telegram.bot_token not set; the bot command will not start")
	}
	if cfg.Transcription.Token == "" && cfg.Transcription.OpenAIAPIKey == "" {
		warnings = append(warnings, "no transcription credentials; voice messages are disabled")
	}
	if cfg.Agent.LLM.APIKey == "" {
		warnings = append(warnings, "agent.llm.api_key not set; the agent must find credentials itself")
	}
	if _, err := os.Stat(cfg.Chinook.DBPath); err != nil {
		warnings = append(warnings, fmt.Sprintf("chinook database not found at %s", cfg.Chinook.DBPath))
	}
	return warnings
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath())
		},
	}
}
