package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waymarkhq/waymark/internal/daemon"
	"github.com/waymarkhq/waymark/internal/printer"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run the waymark daemon",
	Long: `Run the waymark daemon in the foreground.

Starts every component in one process:
  • Dispatcher worker pools, one per priority tier
  • Pattern listener on the event stream
  • Reaper for stuck events and expired waits
  • Health and metrics HTTP server

The daemon runs until interrupted (Ctrl+C) or terminated, then shuts
down gracefully.

Examples:
  # Run with ./waymark.yml
  waymark up

  # Run with an explicit config file
  waymark up --config deploy/waymark.yml`,
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return printer.Error(
			"failed to start daemon",
			err.Error(),
			[]string{"Check the Redis address in your configuration:\n  redis:\n    addr: localhost:6379"},
		)
	}

	printer.Success("Starting waymark instance '%s'\n", cfg.Instance)
	printer.Info("  Redis:  %s\n", cfg.Redis.Addr)
	printer.Info("  Server: %s\n", cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		return printer.Error(
			"daemon exited with error",
			err.Error(),
			nil,
		)
	}

	printer.Success("Shutdown complete\n")
	return nil
}
