package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwald/cadenza/internal/config"
	"github.com/mwald/cadenza/internal/reliability"
	"github.com/mwald/cadenza/pkg/models"
)

var (
	runAgent    string
	runPriority string
	runTimeout  time.Duration
	runRetries  int
	runStrategy string
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Submit a request and wait for the result",
	Long: `Submit a work request, watch its progress, and print the result.

The request is planned into steps. Each step is dispatched to the agents
whose specialties match it, coordinated under a strategy chosen from the
request's complexity (or forced with --strategy), and the agent responses
are synthesized into the step result.

Priority (--priority) is one of high, normal, low. With --retries N the
whole task is retried up to N times after a failed attempt. --timeout
bounds the total task duration; zero means no deadline.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runAgent, "agent", "generalist", "Agent ID the request is directed at")
	runCmd.Flags().StringVar(&runPriority, "priority", "normal", "Dequeue priority: high, normal, or low")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Total task deadline (0 = no deadline)")
	runCmd.Flags().IntVar(&runRetries, "retries", 0, "Whole-task retries after a failed attempt")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Force a coordination strategy: sequential, parallel, hierarchical, or collaborative")
}

func runTask(cmd *cobra.Command, args []string) error {
	request := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	core, err := NewCore(cfg, cwd)
	if err != nil {
		return err
	}
	defer core.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := core.Start(ctx, cwd); err != nil {
		return err
	}

	params := map[string]string{}
	if runStrategy != "" {
		params["strategy"] = runStrategy
	}

	taskID, err := core.Scheduler.Submit(runAgent, request, cwd, params, models.SubmitOptions{
		Priority:       models.Priority(runPriority),
		Timeout:        runTimeout,
		RetryOnFailure: runRetries > 0,
		MaxRetries:     runRetries,
	})
	if err != nil {
		return err
	}
	charmlog.Info("task submitted", "task", taskID, "agent", runAgent, "priority", runPriority)

	lastProgress := -1
	task, err := waitSettle(core.Scheduler, taskID, 200*time.Millisecond, func(t *models.Task) {
		if t.Progress != lastProgress {
			lastProgress = t.Progress
			fmt.Printf("\r  %s %3d%%  ", t.Status, t.Progress)
		}
	})
	fmt.Println()
	if err != nil {
		return err
	}

	printOutcome(task)
	printDegradedBreakers(core)
	if task.Status != models.TaskStatusCompleted {
		return fmt.Errorf("task %s settled as %s", task.ID, task.Status)
	}
	return nil
}

// printDegradedBreakers warns about circuits that left the closed state
// during the run.
func printDegradedBreakers(core *Core) {
	for _, h := range core.Reliability.HealthAll() {
		if h.State == reliability.StateClosed {
			continue
		}
		color.Yellow("  circuit %s is %s (failures=%d, mtbf=%s, mttr=%s)",
			h.Key, h.State, h.Failures, h.MTBF, h.MTTR)
	}
}

// printOutcome prints the settled task's steps and result.
func printOutcome(task *models.Task) {
	switch task.Status {
	case models.TaskStatusCompleted:
		color.Green("Task %s completed in %s", task.ID, task.CompletedAt.Sub(task.StartedAt).Round(time.Millisecond))
	case models.TaskStatusCancelled:
		color.Yellow("Task %s cancelled", task.ID)
	default:
		color.Red("Task %s failed: %s", task.ID, task.Error)
	}
	if task.RetryCount > 0 {
		fmt.Printf("  retries consumed: %d\n", task.RetryCount)
	}

	for i, step := range task.Steps {
		mark := "•"
		switch step.Status {
		case models.StepStatusDone:
			mark = color.GreenString("✓")
		case models.StepStatusError:
			mark = color.RedString("✗")
		}
		fmt.Printf("  %s step %d: %s\n", mark, i+1, step.Description)
		if step.Error != "" {
			fmt.Printf("      %s\n", step.Error)
		}
	}

	if task.Result != "" {
		fmt.Println()
		fmt.Println(task.Result)
	}
}
