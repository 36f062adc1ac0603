// Package tui is the interactive scene monitor: it polls a running daemon's
// control API and renders the device table.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the monitor against the control API at addr.
func Run(addr string) error {
	model := New(addr)
	program := tea.NewProgram(
		model,
		tea.WithAltScreen(),
	)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run monitor: %w", err)
	}

	return nil
}
