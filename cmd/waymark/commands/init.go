package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waymarkhq/waymark/internal/printer"
)

var forceInit bool

const defaultConfig = `version: "1.0"
instance: default

redis:
  addr: localhost:6379

tools:
  endpoint: http://localhost:8000

dispatch:
  max_attempts: 3
  tiers:
    realtime:
      workers: 4
      deadline: 30s
    interactive:
      workers: 4
      deadline: 60s
    system:
      workers: 2
      deadline: 60s
    background:
      workers: 2
      deadline: 120s
    bulk:
      workers: 1
      deadline: 300s

server:
  addr: ":8080"
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new waymark project",
	Long: `Initialize a new waymark project in the current directory.

Creates:
  • waymark.yml - Configuration file with sensible defaults

Use --force to overwrite an existing waymark.yml.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing waymark.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if _, err := os.Stat("waymark.yml"); err == nil {
			return printer.Error(
				"waymark.yml already exists",
				"This directory is already initialized.",
				[]string{"Reinitialize with:\n  waymark init --force"},
			)
		}
	}

	if err := os.WriteFile("waymark.yml", []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write waymark.yml: %w", err)
	}

	printer.Success("Created waymark.yml\n")
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Point tools.endpoint at your tool service\n")
	printer.Info("  2. Start the daemon:  waymark up\n")
	printer.Info("  3. Publish an event:  waymark publish --type ONBOARDING_COMPLETED --payload '{\"user_id\":\"u-1\"}'\n")
	return nil
}
