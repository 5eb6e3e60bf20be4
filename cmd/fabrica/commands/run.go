package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/pipeline"
	"github.com/SamHATIT/fabrica/pipeline/state"
)

// NewCmd creates a new execution in draft.
var NewCmd = &cobra.Command{
	Use:   "new <project>",
	Short: "Create a new execution for a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runNew,
}

// AdvanceCmd performs one state transition.
var AdvanceCmd = &cobra.Command{
	Use:   "advance <execution-id> <state>",
	Short: "Move an execution to a new state",
	Long: `Move an execution to a new state. The transition must be legal in the
state table, and states behind a validation gate require the gate to be
approved first (see 'fabrica gates').`,
	Args: cobra.ExactArgs(2),
	RunE: runAdvance,
}

// PauseCmd sets the cooperative pause flag.
var PauseCmd = &cobra.Command{
	Use:   "pause <execution-id>",
	Short: "Pause an execution at its next suspension point",
	Args:  cobra.ExactArgs(1),
	RunE:  runPause,
}

// ResumeCmd clears the pause flag.
var ResumeCmd = &cobra.Command{
	Use:   "resume <execution-id>",
	Short: "Resume a paused execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

// CancelCmd cancels an execution.
var CancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel an execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

// RequeueCmd resets a failed execution back to queued.
var RequeueCmd = &cobra.Command{
	Use:   "requeue <execution-id>",
	Short: "Requeue a failed execution for another run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequeue,
}

// BuildCmd runs the phased build for one execution.
var BuildCmd = &cobra.Command{
	Use:   "build <execution-id>",
	Short: "Run the phased build for an execution to deployment",
	Long: `Run the six build phases for an execution, then final packaging and
deployment. The execution must have completed design with gate 3
approved. Ctrl+C stops the build at the next suspension point; the
execution stays resumable.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func runNew(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		exec, err := orch.CreateExecution(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created execution %s for project %q (state: %s)\n", exec.ID, exec.Project, exec.State)
		return nil
	})
}

func runAdvance(cmd *cobra.Command, args []string) error {
	target := state.State(args[1])
	if !target.IsValid() {
		return errors.Newf("unknown state %q", args[1])
	}

	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		newState, err := orch.Advance(args[0], target, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Execution %s is now %s\n", args[0], newState)
		return nil
	})
}

func runPause(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		if err := orch.Pause(args[0]); err != nil {
			return err
		}
		fmt.Printf("Execution %s will pause at the next suspension point\n", args[0])
		return nil
	})
}

func runResume(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		if err := orch.Resume(args[0]); err != nil {
			return err
		}
		fmt.Printf("Execution %s resumed; run 'fabrica build %s' to continue\n", args[0], args[0])
		return nil
	})
}

func runCancel(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		if err := orch.Cancel(args[0]); err != nil {
			return err
		}
		fmt.Printf("Execution %s cancelled\n", args[0])
		return nil
	})
}

func runRequeue(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		if err := orch.Requeue(args[0]); err != nil {
			return err
		}
		fmt.Printf("Execution %s requeued\n", args[0])
		return nil
	})
}

func runBuild(cmd *cobra.Command, args []string) error {
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

	orch := buildOrchestrator(database, cfg, nil)
	if err := orch.RunBuild(ctx, args[0]); err != nil {
		if errors.Is(err, errors.ErrExecutionPaused) {
			fmt.Printf("Execution %s paused; resume with 'fabrica resume %s'\n", args[0], args[0])
			return nil
		}
		if errors.Is(err, context.Canceled) {
			fmt.Printf("Build interrupted; rerun 'fabrica build %s' to continue\n", args[0])
			return nil
		}
		return err
	}

	fmt.Printf("Execution %s deployed\n", args[0])
	return nil
}
