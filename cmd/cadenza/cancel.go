package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mwald/cadenza/internal/control"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <taskID>",
	Short: "Cancel a task in a running cadenza process",
	Long: `Drop a cancellation signal for a task.

The signal is a file in the workspace control directory. A cadenza
process running in this workspace picks it up and cancels the task at
its next step boundary; the in-flight step is allowed to finish.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dir := control.Dir(cwd)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create control directory: %w", err)
	}

	path := filepath.Join(dir, "cancel-"+taskID)
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return fmt.Errorf("write cancel signal: %w", err)
	}

	fmt.Printf("Cancellation requested for task %s\n", taskID)
	return nil
}
