package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/pipeline"
)

// StatusCmd inspects an execution or lists stale ones.
var StatusCmd = &cobra.Command{
	Use:   "status [execution-id]",
	Short: "Show execution state, gates, tasks, and phase progress",
	Long: `Show the full status of an execution: current state, transition
history, validation gates, WBS tasks, and per-phase build progress.

With --stale, lists executions that have not progressed within the
given window instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	statusStale     time.Duration
	statusJSON      bool
	statusShowTasks bool
)

func init() {
	StatusCmd.Flags().DurationVar(&statusStale, "stale", 0, "List executions idle longer than this (e.g. 24h) instead of one status")
	StatusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "Output status as JSON")
	StatusCmd.Flags().BoolVar(&statusShowTasks, "tasks", false, "Include the full task list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusStale > 0 {
		return withOrchestrator(func(orch *pipeline.Orchestrator) error {
			return printStale(orch, statusStale)
		})
	}
	if len(args) == 0 {
		return errors.New("an execution id is required unless --stale is given")
	}

	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		status, err := orch.Status(args[0])
		if err != nil {
			return err
		}
		if statusJSON {
			output, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(output))
			return nil
		}
		printStatus(status)
		return nil
	})
}

func printStale(orch *pipeline.Orchestrator, olderThan time.Duration) error {
	stale, err := orch.StaleExecutions(olderThan)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		fmt.Printf("No executions idle longer than %s\n", olderThan)
		return nil
	}

	fmt.Printf("Executions idle longer than %s:\n", olderThan)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for _, exec := range stale {
		fmt.Printf("  %s  %-20s %-18s idle %s\n",
			exec.ID, exec.Project, exec.State,
			time.Since(exec.StateUpdatedAt).Round(time.Minute))
	}
	return nil
}

func printStatus(status *pipeline.ExecutionStatus) {
	exec := status.Execution
	fmt.Printf("Execution %s\n", exec.ID)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Project:  %s\n", exec.Project)
	fmt.Printf("State:    %s", exec.State)
	if exec.Paused {
		fmt.Printf(" (paused)")
	}
	fmt.Println()
	fmt.Printf("Created:  %s\n", exec.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:  %s\n", exec.StateUpdatedAt.Format(time.RFC3339))

	if len(status.Gates) > 0 {
		fmt.Println("\nGates:")
		for _, g := range status.Gates {
			line := fmt.Sprintf("  %d. %-28s %-10s (%d artifacts)", g.Number, g.Name, g.Status, g.ArtifactsCount)
			if g.RejectionReason != "" {
				line += "  rejected: " + g.RejectionReason
			}
			fmt.Println(line)
		}
	}

	if len(status.Phases) > 0 {
		fmt.Println("\nBuild phases:")
		for _, p := range status.Phases {
			line := fmt.Sprintf("  %d. %-16s %-10s attempt %d", p.PhaseNumber, p.PhaseName, p.Status, p.AttemptCount)
			if p.LastError != "" {
				line += "  " + p.LastError
			}
			fmt.Println(line)
		}
	}

	if len(status.Tasks) > 0 {
		completed := 0
		for _, task := range status.Tasks {
			if task.Status == "completed" {
				completed++
			}
		}
		fmt.Printf("\nTasks: %d/%d completed\n", completed, len(status.Tasks))
		if statusShowTasks {
			for _, task := range status.Tasks {
				line := fmt.Sprintf("  %-8s %-16s %-10s %s", task.TaskID, task.PhaseName, task.Status, task.Name)
				if task.LastError != "" {
					line += "  [" + task.LastError + "]"
				}
				fmt.Println(line)
			}
		}
	}

	if len(status.History) > 0 {
		last := status.History[len(status.History)-1]
		fmt.Printf("\nLast transition: %s → %s at %s\n", last.From, last.To, last.At.Format(time.RFC3339))
	}
}
