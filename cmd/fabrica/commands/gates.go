package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/pipeline"
)

// GatesCmd groups validation gate operations.
var GatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "Review validation gates",
	Long: `Review the three validation gates of an execution. A gate becomes
ready when all its required artifact types are present, is submitted
for review, and is then approved or rejected. The states behind each
gate cannot be entered until it is approved.`,
}

var gatesListCmd = &cobra.Command{
	Use:   "list <execution-id>",
	Short: "List an execution's gates",
	Args:  cobra.ExactArgs(1),
	RunE:  runGatesList,
}

var gatesSubmitCmd = &cobra.Command{
	Use:   "submit <execution-id> <gate-number>",
	Short: "Submit a ready gate for review",
	Args:  cobra.ExactArgs(2),
	RunE:  runGatesSubmit,
}

var gatesApproveCmd = &cobra.Command{
	Use:   "approve <execution-id> <gate-number>",
	Short: "Approve a gate under review",
	Args:  cobra.ExactArgs(2),
	RunE:  runGatesApprove,
}

var gatesRejectCmd = &cobra.Command{
	Use:   "reject <execution-id> <gate-number>",
	Short: "Reject a gate under review",
	Args:  cobra.ExactArgs(2),
	RunE:  runGatesReject,
}

var gateRejectReason string

func init() {
	gatesRejectCmd.Flags().StringVar(&gateRejectReason, "reason", "", "Why the gate is being rejected")

	GatesCmd.AddCommand(gatesListCmd)
	GatesCmd.AddCommand(gatesSubmitCmd)
	GatesCmd.AddCommand(gatesApproveCmd)
	GatesCmd.AddCommand(gatesRejectCmd)
}

func gateNumber(arg string) (int, error) {
	number, err := strconv.Atoi(arg)
	if err != nil {
		return 0, errors.Newf("gate number must be an integer, got %q", arg)
	}
	return number, nil
}

func runGatesList(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		gates, err := orch.Gates().Store().ListGates(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Gates for execution %s:\n", args[0])
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		for _, g := range gates {
			line := fmt.Sprintf("  %d. %-28s %-10s requires %v (%d present)",
				g.Number, g.Name, g.Status, g.RequiredTypes, g.ArtifactsCount)
			if g.RejectionReason != "" {
				line += "  rejected: " + g.RejectionReason
			}
			fmt.Println(line)
		}
		return nil
	})
}

func runGatesSubmit(cmd *cobra.Command, args []string) error {
	number, err := gateNumber(args[1])
	if err != nil {
		return err
	}
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		g, err := orch.Gates().SubmitForReview(args[0], number)
		if err != nil {
			return err
		}
		fmt.Printf("Gate %d (%s) is now %s\n", g.Number, g.Name, g.Status)
		return nil
	})
}

func runGatesApprove(cmd *cobra.Command, args []string) error {
	number, err := gateNumber(args[1])
	if err != nil {
		return err
	}
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		g, err := orch.Gates().Approve(args[0], number)
		if err != nil {
			return err
		}
		fmt.Printf("Gate %d (%s) approved\n", g.Number, g.Name)
		return nil
	})
}

func runGatesReject(cmd *cobra.Command, args []string) error {
	number, err := gateNumber(args[1])
	if err != nil {
		return err
	}
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		g, err := orch.Gates().Reject(args[0], number, gateRejectReason)
		if err != nil {
			return err
		}
		fmt.Printf("Gate %d (%s) rejected: %s\n", g.Number, g.Name, gateRejectReason)
		return nil
	})
}
