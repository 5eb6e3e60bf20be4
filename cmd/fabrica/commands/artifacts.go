package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/pipeline"
	"github.com/SamHATIT/fabrica/pipeline/artifact"
	"github.com/SamHATIT/fabrica/pipeline/gate"
)

// ArtifactsCmd groups artifact record operations.
var ArtifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Record and list design artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list <execution-id>",
	Short: "List an execution's artifact records",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactsList,
}

var artifactsAddCmd = &cobra.Command{
	Use:   "add <execution-id> <type> <name>",
	Short: "Record an artifact and refresh its gate",
	Long: `Record an artifact for an execution. Types owned by a validation gate
(business_requirement, use_case, data_model, solution_architecture,
technical_design, wbs_plan) refresh that gate's readiness.`,
	Args: cobra.ExactArgs(3),
	RunE: runArtifactsAdd,
}

var artifactPath string

func init() {
	artifactsAddCmd.Flags().StringVar(&artifactPath, "path", "", "File path the artifact lives at")

	ArtifactsCmd.AddCommand(artifactsListCmd)
	ArtifactsCmd.AddCommand(artifactsAddCmd)
}

func runArtifactsList(cmd *cobra.Command, args []string) error {
	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		records, err := orch.Artifacts().ListByExecution(args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No artifacts recorded")
			return nil
		}

		fmt.Printf("Artifacts for execution %s:\n", args[0])
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		for _, a := range records {
			line := fmt.Sprintf("  %4d  %-22s %s", a.ID, a.Type, a.Name)
			if a.Path != "" {
				line += "  (" + a.Path + ")"
			}
			fmt.Println(line)
		}
		return nil
	})
}

func runArtifactsAdd(cmd *cobra.Command, args []string) error {
	artifactType := artifact.Type(args[1])
	switch artifactType {
	case artifact.TypeBusinessRequirement, artifact.TypeUseCase,
		artifact.TypeDataModel, artifact.TypeSolutionArchitecture,
		artifact.TypeTechnicalDesign, artifact.TypeWBSPlan,
		artifact.TypeGeneratedFile, artifact.TypeTestOutput:
	default:
		return errors.Newf("unknown artifact type %q", args[1])
	}

	return withOrchestrator(func(orch *pipeline.Orchestrator) error {
		record := &artifact.Artifact{
			ExecutionID: args[0],
			Type:        artifactType,
			Name:        args[2],
			Path:        artifactPath,
		}
		if err := orch.Artifacts().Record(record); err != nil {
			return err
		}
		fmt.Printf("Recorded %s artifact %q\n", record.Type, record.Name)

		// Refresh the gate that counts this type, if any.
		for _, def := range gate.Definitions {
			for _, required := range def.RequiredTypes {
				if required != artifactType {
					continue
				}
				g, err := orch.Gates().UpdateArtifactCount(args[0], def.Number)
				if err != nil {
					return err
				}
				fmt.Printf("Gate %d (%s) is now %s\n", g.Number, g.Name, g.Status)
				return nil
			}
		}
		return nil
	})
}
