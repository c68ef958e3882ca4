package banner

import (
	"fmt"
	"io"
	"strings"

	"github.com/alekspetrov/nbpilot/internal/health"
)

// Logo is the ASCII art logo for nbpilot
const Logo = `
   ┌┐┌┌┐ ┌─┐┬┬  ┌─┐┌┬┐
   │││├┴┐├─┘││  │ │ │
   ┘└┘└─┘┴  ┴┴─┘└─┘ ┴
`

// Tagline is the project tagline
const Tagline = "Notebook Tasks From Your Phone"

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// Field is one labelled line of the startup banner.
type Field struct {
	Label string
	Value string
}

// PrintWithVersion prints the banner with version info
func PrintWithVersion(w io.Writer, version string) {
	fmt.Fprint(w, Logo)
	fmt.Fprintf(w, "   %s\n", Tagline)
	fmt.Fprintf(w, "   v%s\n\n", version)
}

// Startup prints the compact header shown when a long-running command
// starts: the mode, the enabled features from report (may be nil) and the
// given fields.
func Startup(w io.Writer, version, mode string, report *health.HealthReport, fields []Field) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "NBPILOT v%s │ %s\n", version, mode)
	fmt.Fprintln(w, rule)

	if report != nil {
		var enabled, warnings []string
		for _, f := range report.Features {
			switch f.Status {
			case health.StatusOK:
				enabled = append(enabled, f.Name)
			case health.StatusWarning:
				warnings = append(warnings, f.Name+"*")
			}
		}
		if len(enabled) > 0 {
			fmt.Fprintf(w, "✓ %s\n", strings.Join(enabled, ", "))
		}
		if len(warnings) > 0 {
			fmt.Fprintf(w, "○ %s\n", strings.Join(warnings, ", "))
		}
		fmt.Fprintln(w)
	}

	width := 0
	for _, f := range fields {
		width = max(width, len(f.Label))
	}
	for _, f := range fields {
		fmt.Fprintf(w, "%-*s  %s\n", width+1, f.Label+":", f.Value)
	}
	if len(fields) > 0 {
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Listening... (Ctrl+C to stop)")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
}
