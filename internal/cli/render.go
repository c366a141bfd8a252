package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/specialistvlad/remotebox/internal/app"
	"github.com/specialistvlad/remotebox/internal/executor"
	"github.com/specialistvlad/remotebox/internal/node"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func stateStyle(s node.State) lipgloss.Style {
	switch s {
	case node.Ready:
		return successStyle
	case node.Failed:
		return failureStyle
	case node.Skipped:
		return warningStyle
	}
	return mutedStyle
}

// renderReport renders the per-node summary of a run followed by its
// outputs.
func renderReport(r *executor.Report, outputs map[string]string) string {
	width := 0
	for _, name := range r.Order {
		width = max(width, lipgloss.Width(name))
	}
	nameCol := lipgloss.NewStyle().Width(width + 2)
	stateCol := lipgloss.NewStyle().Width(9)

	var b strings.Builder
	b.WriteString(headerStyle.Render("Nodes"))
	b.WriteString("\n")
	for _, name := range r.Order {
		res := r.Nodes[name]
		line := nameCol.Render(name) + stateStyle(res.State).Inherit(stateCol).Render(res.State.String())
		switch res.State {
		case node.Ready, node.Failed:
			detail := res.End.Sub(res.Start).Round(time.Millisecond).String()
			if res.Attempts > 1 {
				detail += fmt.Sprintf(", %d attempts", res.Attempts)
			}
			line += mutedStyle.Render(detail)
		}
		if res.State == node.Failed && res.Err != nil {
			line += "\n" + strings.Repeat(" ", width+2) + failureStyle.Render(firstLine(res.Err.Error()))
		}
		b.WriteString("  " + line + "\n")
	}

	if len(outputs) > 0 {
		b.WriteString("\n" + headerStyle.Render("Outputs") + "\n")
		for _, k := range sortedNames(outputs) {
			b.WriteString(fmt.Sprintf("  %s = %s\n", k, outputs[k]))
		}
	}

	status := successStyle.Render("✔ environment is up")
	if r.Status != executor.Success {
		status = failureStyle.Render(fmt.Sprintf("✘ %d failed, %d skipped", len(r.Failed()), len(r.Skipped())))
	}
	b.WriteString("\n" + status + "\n")
	return b.String()
}

// renderDown summarises a teardown.
func renderDown(res *app.DownResult) string {
	var b strings.Builder
	for _, a := range res.Stopped {
		b.WriteString(fmt.Sprintf("  %s %s\n", warningStyle.Render("stopped  "), a))
	}
	for _, a := range res.Kept {
		b.WriteString(fmt.Sprintf("  %s %s\n", mutedStyle.Render("kept     "), a))
	}
	for _, a := range res.Destroyed {
		b.WriteString(fmt.Sprintf("  %s %s\n", failureStyle.Render("destroyed"), a))
	}
	if b.Len() == 0 {
		return mutedStyle.Render("nothing to tear down") + "\n"
	}
	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
