package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tabwatch/tabwatch/cmd/tabwatch/commands"
	"github.com/tabwatch/tabwatch/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tabwatch",
	Short: "tabwatch - Recurring browser tab capture daemon",
	Long: `tabwatch watches tabs in an already-running browser over the DevTools
protocol. Each watched tab is refreshed, waited on for readiness, captured
and delivered on its own schedule.

Available commands:
  serve   - Start the watch daemon and its HTTP API
  config  - Show or change configuration
  version - Show version information

Examples:
  tabwatch serve                              # Start the daemon
  tabwatch config show                        # Show merged configuration
  tabwatch config set watch.max_retries 3     # Persist a setting`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize global logger before any command runs
		if cmd.Name() != "show" {
			if err := logger.Initialize(false); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
