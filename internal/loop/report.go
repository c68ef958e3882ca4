package loop

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/alekspetrov/nbpilot/internal/source"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	resultStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// printResult writes the completed-task report.
func printResult(w io.Writer, req source.Request, result string) {
	if result == "" {
		result = "(no result)"
	}
	fmt.Fprintln(w, headerStyle.Render("Task completed")+" "+idStyle.Render(req.ID))
	fmt.Fprintln(w, resultStyle.Render(result))
}
