package cli

import (
	"github.com/spf13/cobra"

	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/internal/tui"
)

var monitorAddr string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the scene of a running daemon",
	Long: `Open an interactive monitor against a running netsim daemon.

The monitor polls the control API and shows every device with its chips,
position, visibility and per-radio traffic counters.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		// The TUI owns the terminal; keep logging quiet.
		if err := logging.Initialize(logging.Config{Level: "error", Format: "text"}); err != nil {
			return err
		}
		defer logging.Sync()

		return tui.Run(monitorAddr)
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVarP(&monitorAddr, "address", "a", "127.0.0.1:7681", "control API address of the daemon")
}
