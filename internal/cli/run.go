package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/netsimio/netsim/internal/config"
	"github.com/netsimio/netsim/internal/logging"
	"github.com/netsimio/netsim/internal/netsim"
)

// Exit codes of the daemon.
const (
	exitInitFailure = 1
	exitBindFailure = 2
)

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the simulator daemon",
	Long: `Start the netsim daemon.

The daemon listens for virtual devices on the packet-stream endpoints,
simulates the radio links between their chips, and exits on its own
after the configured inactivity period once the last device detaches.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate configuration without starting the daemon")
}

func runDaemon(_ *cobra.Command, _ []string) error {
	// Initialize logging
	logCfg := logging.Config{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}
	if err := logging.Initialize(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		logging.Info("Using config file", zap.String("path", cfgFile))
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		os.Exit(exitInitFailure)
	}
	if err := cfg.Validate(); err != nil {
		logging.Error("Invalid configuration", zap.Error(err))
		os.Exit(exitInitFailure)
	}

	if dryRun {
		fmt.Println("Configuration is valid!")
		fmt.Printf("  Packet streamer: %s\n", cfg.Listen.GRPCAddress)
		if cfg.Listen.TCPAddress != "" {
			fmt.Printf("  Framed TCP:      %s\n", cfg.Listen.TCPAddress)
		}
		if cfg.Listen.HTTPAddress != "" {
			fmt.Printf("  Control API:     %s\n", cfg.Listen.HTTPAddress)
		}
		fmt.Printf("  Idle shutdown:   %ds\n", cfg.Shutdown.InactivitySeconds)
		return nil
	}

	// Assemble the daemon
	service, err := netsim.New(cfg)
	if err != nil {
		logging.Error("Failed to create daemon", zap.Error(err))
		os.Exit(exitInitFailure)
	}

	if err := service.Start(); err != nil {
		logging.Error("Failed to start daemon", zap.Error(err))
		if isBindError(err) {
			os.Exit(exitBindFailure)
		}
		os.Exit(exitInitFailure)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logging.Info("Received shutdown signal")
	case <-service.ShutdownRequested():
		logging.Info("Idle shutdown")
	}

	service.Stop()
	return nil
}

func isBindError(err error) bool {
	return errors.Is(err, netsim.ErrBind)
}
