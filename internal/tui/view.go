package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	return s
}

// View renders the monitor screen.
func (m Model) View() string {
	header := titleStyle.Render("netsim scene monitor") +
		statusStyle.Render(fmt.Sprintf("  %s", m.addr))

	status := statusStyle.Render(fmt.Sprintf("%d devices · updated %s · q quit · r refresh",
		len(m.scene.Devices), m.lastUpd.Format("15:04:05")))
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("error: %v", m.err))
	}

	return header + "\n\n" + baseStyle.Render(m.table.View()) + "\n" + status + "\n"
}
