package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SamHATIT/fabrica/cmd/fabrica/commands"
	"github.com/SamHATIT/fabrica/logger"
)

var rootCmd = &cobra.Command{
	Use:   "fabrica",
	Short: "Fabrica - Execution orchestration engine",
	Long: `Fabrica - Dependency-aware build orchestration over a phased pipeline.

Fabrica drives an execution from draft through design checkpoints and a
six-phase build to deployment, with validation gates between stages and
a WBS task engine doing the work.

Available commands:
  new       - Create a new execution
  advance   - Move an execution to a new state
  build     - Run the phased build for an execution
  plan      - Load a work-breakdown plan
  status    - Inspect an execution (or list stale ones)
  artifacts - Record and list design artifacts
  tasks     - List, run, reset, or skip WBS tasks
  gates     - Review validation gates
  config    - Inspect the Fabrica configuration
  db        - Manage the Fabrica database
  serve     - Run the build daemon with the event stream server

Examples:
  fabrica new acme-crm            # Create an execution
  fabrica status <execution-id>   # Full execution status
  fabrica gates approve <id> 3    # Sign off the build gate
  fabrica build <execution-id>    # Run the build to deployment
  fabrica db cleanup --older-than 720h`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if verbosity, _ := cmd.Flags().GetCount("verbose"); verbosity > 0 {
			logger.SetVerbose()
		}
		return nil
	},
}

var jsonOutput bool

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.NewCmd)
	rootCmd.AddCommand(commands.AdvanceCmd)
	rootCmd.AddCommand(commands.PauseCmd)
	rootCmd.AddCommand(commands.ResumeCmd)
	rootCmd.AddCommand(commands.CancelCmd)
	rootCmd.AddCommand(commands.RequeueCmd)
	rootCmd.AddCommand(commands.BuildCmd)
	rootCmd.AddCommand(commands.PlanCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.TasksCmd)
	rootCmd.AddCommand(commands.ArtifactsCmd)
	rootCmd.AddCommand(commands.GatesCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
