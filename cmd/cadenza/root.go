package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cadenza",
	Short: "AI task orchestration core",
	Long: `Cadenza schedules work requests across specialist AI agents.

A submitted request is planned into steps, each step is dispatched to the
agents whose specialties match it, and their responses are synthesized
into a single result. Model selection, circuit breaking, and whole-task
retries happen automatically.

Core capabilities:
- Priority queue with a bounded worker pool
- Step-planned execution with progress tracking and retries
- Sequential, parallel, hierarchical, and collaborative agent coordination
- Complexity-based model routing with availability fallback
- Per-agent and per-provider circuit breakers`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
