package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/nbpilot/internal/config"
	"github.com/alekspetrov/nbpilot/internal/health"
)

const maxRecommendations = 5

func newDoctorCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system health and configuration",
		Long: `Run health checks on system dependencies, configuration, and features.

Shows what's working, what's missing, and how to fix issues.

Examples:
  nbpilot doctor           # Run all checks
  nbpilot doctor --verbose # Show fix suggestions inline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := loadConfig()
			if err != nil {
				cfg = config.DefaultConfig()
			}

			report := health.RunChecks(cfg)

			fmt.Fprintln(out)
			fmt.Fprintln(out, heading("nbpilot Health Check"))
			fmt.Fprintln(out)

			fmt.Fprintln(out, "System Dependencies:")
			for _, d := range report.Dependencies {
				fmt.Fprintf(out, "  %s %-12s %s\n", d.Status.ColorSymbol(), d.Name, d.Message)
				if verbose && d.Fix != "" && d.Status != health.StatusOK {
					fmt.Fprintf(out, "                 → %s\n", d.Fix)
				}
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Configuration:")
			for _, c := range report.Config {
				fmt.Fprintf(out, "  %s %-16s %s\n", c.Status.ColorSymbol(), c.Name, c.Message)
				if verbose && c.Fix != "" && c.Status != health.StatusOK {
					fmt.Fprintf(out, "                     → %s\n", c.Fix)
				}
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Features Status:")
			for _, f := range report.Features {
				note := ""
				if f.Note != "" {
					note = " (" + f.Note + ")"
				}
				fmt.Fprintf(out, "  %s %-14s%s\n", f.Status.ColorSymbol(), f.Name, note)
			}
			fmt.Fprintln(out)

			errs, warnings := report.Summary()
			if recs := recommendations(report); len(recs) > 0 {
				fmt.Fprintln(out, "Recommendations:")
				for i, r := range recs {
					fmt.Fprintf(out, "  %d. %s\n", i+1, r)
				}
				fmt.Fprintln(out)
			}

			switch {
			case !report.ReadyToStart():
				fmt.Fprintf(out, "%s Not ready - %d critical error(s)\n", errStyle.Render("✗"), errs)
				fmt.Fprintln(out, "  Fix required dependencies before running nbpilot")
			case errs == 0 && warnings == 0:
				fmt.Fprintf(out, "%s All systems operational!\n", okStyle.Render("✓"))
			case errs == 0:
				fmt.Fprintf(out, "%s Ready to start (%d warning(s))\n", okStyle.Render("✓"), warnings)
			default:
				fmt.Fprintf(out, "! Ready with issues (%d error(s), %d warning(s))\n", errs, warnings)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, mutedStyle.Render("Run 'nbpilot config init' to write a starter configuration"))

			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed output with fix suggestions")

	return cmd
}

// recommendations lists fixes for failed checks, errors before warnings.
func recommendations(report *health.HealthReport) []string {
	var recs []string
	for _, level := range []health.Status{health.StatusError, health.StatusWarning} {
		for _, d := range report.Dependencies {
			if d.Status == level && d.Fix != "" {
				recs = append(recs, d.Name+": "+d.Fix)
			}
		}
		for _, c := range report.Config {
			if c.Status == level && c.Fix != "" {
				recs = append(recs, c.Name+": "+c.Fix)
			}
		}
	}
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}
