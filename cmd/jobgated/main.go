// jobgated is the job admission daemon: it owns the SQLite store, the
// duplicate cache, and the in-process work queue, and exposes a small CLI
// for inspecting admitted jobs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jobgate/jobgate/logger"
)

var rootCmd = &cobra.Command{
	Use:   "jobgated",
	Short: "jobgate - duplicate-safe job admission and scheduling daemon",
	Long: `jobgate admits job definitions exactly once: equivalent submissions are
rejected by content fingerprint, admitted jobs are scheduled on the work
queue, and state survives restarts in SQLite.

Examples:
  jobgated serve             # Run the admission daemon
  jobgated jobs ls           # List recently admitted jobs
  jobgated migrate           # Apply pending schema migrations and exit`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

var (
	configPath string
	jsonLogs   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a jobgate config file (TOML)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON log records instead of console output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
