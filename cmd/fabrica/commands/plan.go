package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/pipeline"
	"github.com/SamHATIT/fabrica/pipeline/wbs"
)

// PlanCmd groups work-breakdown plan operations.
var PlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Load a work-breakdown plan",
}

var planLoadCmd = &cobra.Command{
	Use:   "load <execution-id> <plan.json>",
	Short: "Load a WBS plan file into an execution",
	Long: `Load a work-breakdown plan into an execution. The file holds either a
JSON array of plan items or an object with an "items" array; item order
becomes scheduling order. Loading is idempotent: items already present
are left untouched, new items are appended.`,
	Args: cobra.ExactArgs(2),
	RunE: runPlanLoad,
}

func init() {
	PlanCmd.AddCommand(planLoadCmd)
}

func runPlanLoad(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[1])
	if err != nil {
		return errors.Wrapf(err, "failed to read plan file %s", args[1])
	}

	plan := &wbs.Plan{ExecutionID: args[0]}
	if err := json.Unmarshal(data, &plan.Items); err != nil {
		// Not a bare array; try the wrapped form.
		var wrapped wbs.Plan
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return errors.Wrapf(err, "failed to parse plan file %s", args[1])
		}
		plan.Items = wrapped.Items
	}
	if len(plan.Items) == 0 {
		return errors.Newf("plan file %s contains no items", args[1])
	}

	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		created, err := orch.LoadPlan(plan)
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d new tasks into execution %s (%d in plan)\n",
			len(created), args[0], len(plan.Items))
		return nil
	})
}
