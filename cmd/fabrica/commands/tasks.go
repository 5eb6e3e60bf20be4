package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/pipeline"
	"github.com/SamHATIT/fabrica/pipeline/wbs"
)

// TasksCmd groups WBS task operations.
var TasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List, run, reset, or skip WBS tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list <execution-id>",
	Short: "List an execution's tasks in scheduling order",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksList,
}

var tasksRunCmd = &cobra.Command{
	Use:   "run <execution-id>",
	Short: "Run the execution's tasks one at a time",
	Long: `Drain the execution's runnable tasks one at a time through the task
engine, outside the phase-batch build. Each task runs its own generate,
review, deploy, and commit cycle with bounded retries; a permanently
failed task blocks its dependents and the drain moves on to whatever is
still runnable.`,
	Args: cobra.ExactArgs(1),
	RunE: runTasksRun,
}

var tasksResetCmd = &cobra.Command{
	Use:   "reset <execution-id> <task-id>",
	Short: "Reset a failed or blocked task back to pending",
	Long: `Reset a task to pending with a fresh retry budget. Dependents that
were blocked by its failure must be reset individually.`,
	Args: cobra.ExactArgs(2),
	RunE: runTasksReset,
}

var tasksSkipCmd = &cobra.Command{
	Use:   "skip <execution-id> <task-id>",
	Short: "Skip a task; its dependents treat it as satisfied",
	Args:  cobra.ExactArgs(2),
	RunE:  runTasksSkip,
}

var taskSkipReason string

func init() {
	tasksSkipCmd.Flags().StringVar(&taskSkipReason, "reason", "", "Why the task is being skipped")

	TasksCmd.AddCommand(tasksListCmd)
	TasksCmd.AddCommand(tasksRunCmd)
	TasksCmd.AddCommand(tasksResetCmd)
	TasksCmd.AddCommand(tasksSkipCmd)
}

func runTasksRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := buildOrchestrator(database, cfg, nil).Engine()

	completed := 0
	for {
		if ctx.Err() != nil {
			fmt.Printf("Interrupted; rerun 'fabrica tasks run %s' to continue\n", args[0])
			return nil
		}

		task, err := engine.NextRunnable(args[0])
		if err != nil {
			return err
		}
		if task == nil {
			break
		}

		if err := engine.ExecuteTask(ctx, task, ""); err != nil {
			var taskErr *wbs.TaskExecutionError
			if errors.As(err, &taskErr) {
				fmt.Printf("Task %s failed at %s: %v\n", taskErr.TaskID, taskErr.Step, taskErr.Err)
				continue
			}
			return err
		}
		completed++
		fmt.Printf("Task %s completed\n", task.TaskID)
	}

	fmt.Printf("%d task(s) completed; no runnable tasks remain\n", completed)
	return nil
}

func runTasksList(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		tasks, err := orch.Engine().Store().ListTasks(args[0])
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks loaded; use 'fabrica plan load' first")
			return nil
		}

		fmt.Printf("Tasks for execution %s:\n", args[0])
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		for _, task := range tasks {
			line := fmt.Sprintf("  %-8s %-16s %-10s attempts %d  %s",
				task.TaskID, task.PhaseName, task.Status, task.AttemptCount, task.Name)
			if len(task.DependsOn) > 0 {
				line += fmt.Sprintf("  (after %v)", task.DependsOn)
			}
			if task.LastError != "" {
				line += "  [" + task.LastError + "]"
			}
			fmt.Println(line)
		}
		return nil
	})
}

func runTasksReset(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		task, err := orch.Engine().ResetTask(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Task %s reset to %s\n", task.TaskID, task.Status)
		return nil
	})
}

func runTasksSkip(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		task, err := orch.Engine().SkipTask(args[0], args[1], taskSkipReason)
		if err != nil {
			return err
		}
		fmt.Printf("Task %s skipped\n", task.TaskID)
		return nil
	})
}
