package agent

import (
	"strings"
)

// SampleFiles are the files the chinook export leaves next to the notebook.
var SampleFiles = []string{
	"album_sample.csv",
	"artist_sample.csv",
	"customer_sample.csv",
	"genre_sample.csv",
	"invoice_sample.csv",
	"invoiceline_sample.csv",
	"mediatype_sample.csv",
	"track_sample.csv",
}

const notebookControls = `COMMAND MODE:
  m       change cell type to markdown
  b       create a code cell below
  a       create a code cell above
  j       select the cell below
  k       select the cell above
  d, d    delete the current cell
EDIT MODE:
  type to change the cell content
ANY MODE:
  ctrl + enter   run the current cell
  cmd + s        save the notebook`

const notebookUsage = `Cells are stacked vertically: the first cell is at the top and the last at the bottom, so scroll to reach the cell you want to edit. Cells run Python in the order you execute them; define variables and functions in early cells and call them from later ones.
There are two modes. Press esc for command mode; click inside a cell for edit mode. In command mode, b and a create new cells below and above.
The current mode is shown in the footer of the page. After producing a plot or table, save and scroll down to see the cell output. The last remaining cell cannot be deleted. The selected cell has a blue ribbon on its left and a blue border.`

// Notebook identifies the notebook the agent works in.
type Notebook struct {
	URL string
	// Name is the notebook file listed next to the exports; empty omits it.
	Name string
}

// Preamble returns the fixed context that precedes every task: the sample
// files, where the notebook runs, how to drive it, and the helper actions the
// agent may call.
func Preamble(nb Notebook, actions []ActionSpec) string {
	var sb strings.Builder

	sb.WriteString("Context for acting in the browser: the Chinook database exports are in the same folder as the notebook. The notebook server lists these files:\n")
	for _, f := range SampleFiles {
		sb.WriteString("  " + f + "\n")
	}
	if nb.Name != "" {
		sb.WriteString("  " + nb.Name + " (this notebook)\n")
	}
	sb.WriteString("\n")

	sb.WriteString("Your task is to use the browser in the jupyter-lab instance running at " + nb.URL + ".\n\n")
	sb.WriteString("Jupyter-lab usage:\n" + notebookUsage + "\n\n")
	sb.WriteString("Jupyter-lab controls:\n" + notebookControls + "\n\n")
	sb.WriteString("Each cell also has helper delete and run buttons next to it.\n")

	if len(actions) > 0 {
		sb.WriteString("Helper actions you can call:\n")
		for _, a := range actions {
			sb.WriteString("  - " + a.Name)
			if a.Description != "" {
				sb.WriteString(": " + a.Description)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nDo the following tasks using keys and commands as much as possible, and save the notebook every time you finish editing or running a cell:\n")
	return sb.String()
}

// BuildPrompt concatenates the preamble and the caller's task text.
func BuildPrompt(preamble, task string) string {
	return preamble + task
}
