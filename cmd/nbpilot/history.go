package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/nbpilot/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently dispatched tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := history.NewStore(cfg.History.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.Recent(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("No tasks recorded"))
				return nil
			}

			fmt.Fprintln(out, renderTable(
				[]string{"Started", "Source", "Status", "Duration", "Request", "Result"},
				historyRows(entries),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))

			stats, err := store.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d total, %d completed, %d failed, %d running, %d abandoned\n",
				stats.Total, stats.Completed, stats.Failed, stats.Running, stats.Abandoned)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of tasks to show")

	return cmd
}

func historyRows(entries []*history.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		duration := "-"
		if e.CompletedAt != nil {
			duration = (time.Duration(e.DurationMs) * time.Millisecond).Round(time.Second).String()
		}
		outcome := e.Result
		if e.Error != "" {
			outcome = e.Error
		}
		rows = append(rows, []string{
			e.StartedAt.Local().Format("2006-01-02 15:04"),
			e.Source,
			e.Status,
			duration,
			truncate(e.Text, 40),
			truncate(outcome, 40),
		})
	}
	return rows
}

// truncate shortens s to n runes on one line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
