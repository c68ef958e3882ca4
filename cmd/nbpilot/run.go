package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/nbpilot/internal/agent"
	"github.com/alekspetrov/nbpilot/internal/banner"
	"github.com/alekspetrov/nbpilot/internal/companion"
	"github.com/alekspetrov/nbpilot/internal/config"
	"github.com/alekspetrov/nbpilot/internal/health"
	"github.com/alekspetrov/nbpilot/internal/history"
	"github.com/alekspetrov/nbpilot/internal/logging"
	"github.com/alekspetrov/nbpilot/internal/loop"
	"github.com/alekspetrov/nbpilot/internal/relay"
	"github.com/alekspetrov/nbpilot/internal/source"
)

func newRunCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the notebook companion and serve requests one at a time",
		Long: `Start JupyterLab, then loop: wait for a request, hand it to the
browser agent together with the notebook instructions, print the result.

Request sources (--mode):
  console   one request per line of standard input
  poll      poll the relay for a new message
  watch     subscribe to the relay websocket

A failed task stops the loop and shuts the notebook server down.

Examples:
  nbpilot run                 # mode from config (poll by default)
  nbpilot run --mode console`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mode") {
				cfg.Loop.Mode = mode
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			src, closeSrc := newSource(cfg, os.Stdin, cmd.OutOrStdout())
			defer closeSrc()

			store := openHistory(cfg)
			if store != nil {
				defer func() { _ = store.Close() }()
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			fields := []banner.Field{
				{Label: "Source", Value: cfg.Loop.Mode},
				{Label: "Notebook", Value: cfg.Companion.NotebookURL()},
			}
			if cfg.Loop.Mode != config.ModeConsole {
				fields = append(fields, banner.Field{Label: "Relay", Value: cfg.Relay.PublicURL})
			}
			banner.Startup(cmd.OutOrStdout(), version, "Relay loop", health.RunChecks(cfg), fields)

			l := loop.New(loopOptions(cfg, src, store, cmd.OutOrStdout()))
			err = l.Run(ctx)
			if errors.Is(err, loop.ErrLocked) {
				return fmt.Errorf("%w (lock %s)", err, cfg.Loop.LockPath)
			}
			return ignoreCanceled(err)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "request source: console, poll or watch")

	return cmd
}

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <task>",
		Short: "Run a single task in a fresh notebook session",
		Long: `Start JupyterLab, run one task with the browser agent, print the
result and shut the notebook server down.

Example:
  nbpilot ask "plot the number of tracks per genre"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}

			store := openHistory(cfg)
			if store != nil {
				defer func() { _ = store.Close() }()
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			opts := loopOptions(cfg, nil, store, cmd.OutOrStdout())
			opts.SourceName = "cli"
			result, err := loop.New(opts).RunOnce(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("Task completed"))
			if result == "" {
				result = mutedStyle.Render("(no result)")
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}

	return cmd
}

// newSource builds the request source for cfg.Loop.Mode.
func newSource(cfg *config.Config, in io.Reader, out io.Writer) (source.Source, func()) {
	policy := source.DefaultRetryPolicy()
	client := relay.NewClient(cfg.Relay.PublicURL)

	switch cfg.Loop.Mode {
	case config.ModeConsole:
		return source.NewConsole(in, out), func() {}
	case config.ModeWatch:
		w := source.NewWatcher(client.WebSocketURL(), policy, source.NewSeenSet())
		return w, func() { _ = w.Close() }
	default:
		return source.NewPoller(client, policy, source.NewSeenSet()), func() {}
	}
}

// openHistory opens the task history, or returns nil when it is disabled or
// cannot be opened.
func openHistory(cfg *config.Config) *history.Store {
	if cfg.History == nil || !cfg.History.Enabled {
		return nil
	}
	store, err := history.NewStore(cfg.History.Path)
	if err != nil {
		logging.WithComponent("history").Warn("Task history disabled", slog.Any("error", err))
		return nil
	}
	if n, err := store.AbandonRunning(); err == nil && n > 0 {
		logging.WithComponent("history").Info("Marked interrupted tasks abandoned", slog.Int("count", n))
	}
	return store
}

func loopOptions(cfg *config.Config, src source.Source, store *history.Store, out io.Writer) loop.Options {
	registry := agent.DefaultRegistry(agent.XdotoolSender{Command: cfg.Agent.KeyCommand})
	runner := agent.NewCommandAgent(cfg.Agent, registry)

	opts := loop.Options{
		Source:     src,
		SourceName: cfg.Loop.Mode,
		Companion:  *cfg.Companion,
		NewRunner: func(h *companion.Handle) loop.TaskRunner {
			return agent.NewRunner(runner, registry, agent.Notebook{URL: h.NotebookURL(), Name: h.Notebook()}, cfg.Agent)
		},
		Out:      out,
		LockPath: cfg.Loop.LockPath,
	}
	// A nil *history.Store must not become a non-nil Recorder.
	if store != nil {
		opts.History = store
	}
	return opts
}
