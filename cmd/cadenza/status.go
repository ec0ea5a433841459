package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwald/cadenza/internal/config"
	"github.com/mwald/cadenza/internal/history"
)

var statusCmd = &cobra.Command{
	Use:   "status [taskID]",
	Short: "Show task history",
	Long: `Display the recorded task history for this workspace.

With no arguments, prints a summary of all recorded tasks. With a task
ID, prints that task's recorded state.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	path := cfg.History.Path
	if path == "" {
		path = history.DefaultPath(cwd)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No task history. Run 'cadenza run <request>' to start.")
		return nil
	}

	store, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	if len(args) == 1 {
		return showTask(store, args[0])
	}
	return showSummary(store)
}

func showTask(store *history.Store, taskID string) error {
	rec, err := store.Task(taskID)
	if err != nil {
		return err
	}
	events, err := store.EventCount(taskID)
	if err != nil {
		return err
	}

	fmt.Printf("Task %s\n", rec.ID)
	fmt.Printf("  Agent:    %s\n", rec.AgentID)
	fmt.Printf("  Status:   %s\n", colorStatus(rec.Status))
	fmt.Printf("  Progress: %d%%\n", rec.Progress)
	fmt.Printf("  Events:   %d\n", events)
	if !rec.SettledAt.IsZero() {
		fmt.Printf("  Settled:  %s (%s)\n",
			rec.SettledAt.Format(time.RFC3339),
			formatDuration(rec.SettledAt.Sub(rec.SubmittedAt)))
	}
	if rec.ErrorKind != "" {
		fmt.Printf("  Error:    [%s] %s\n", rec.ErrorKind, rec.Message)
	}
	return nil
}

func showSummary(store *history.Store) error {
	sum, err := store.Summarize()
	if err != nil {
		return err
	}

	fmt.Printf("Task history: %d tasks\n", sum.Total)
	fmt.Printf("  %s %d\n", color.GreenString("completed:"), sum.Completed)
	fmt.Printf("  %s %d\n", color.RedString("failed:   "), sum.Failed)
	fmt.Printf("  %s %d\n", color.YellowString("cancelled:"), sum.Cancelled)
	if sum.AvgDuration > 0 {
		fmt.Printf("  avg settle time: %s\n", formatDuration(sum.AvgDuration))
	}
	return nil
}

func colorStatus(status string) string {
	switch status {
	case "completed":
		return color.GreenString(status)
	case "failed":
		return color.RedString(status)
	case "cancelled":
		return color.YellowString(status)
	default:
		return status
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dh", h)
}
