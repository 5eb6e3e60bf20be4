// Package gate implements pipeline checkpoints. A gate tracks which
// artifact types a stage must produce and blocks advancement until they
// exist and the gate is signed off, by a human or an automated approver.
package gate

import (
	"encoding/json"
	"time"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/pipeline/artifact"
)

// Status is a gate's lifecycle status.
type Status string

const (
	// StatusPending: required artifacts not all present yet
	StatusPending Status = "pending"
	// StatusReady: every required artifact type has at least one record
	StatusReady Status = "ready"
	// StatusInReview: submitted for external sign-off
	StatusInReview Status = "in_review"
	// StatusApproved: signed off; terminal for this gate
	StatusApproved Status = "approved"
	// StatusRejected: sign-off refused; the producing phase re-runs
	StatusRejected Status = "rejected"
)

// Gate is one checkpoint row for an execution.
type Gate struct {
	ExecutionID     string          `json:"execution_id"`
	Number          int             `json:"gate_number"`
	Name            string          `json:"name"`
	RequiredTypes   []artifact.Type `json:"required_types"`
	ArtifactsCount  int             `json:"artifacts_count"`
	Status          Status          `json:"status"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Definition names a gate and the artifact types it requires.
type Definition struct {
	Number        int
	Name          string
	RequiredTypes []artifact.Type
}

// Definitions is the fixed, ordered set of gates created for every
// execution.
var Definitions = []Definition{
	{
		Number: 1,
		Name:   "business-requirements",
		RequiredTypes: []artifact.Type{
			artifact.TypeBusinessRequirement,
			artifact.TypeUseCase,
		},
	},
	{
		Number: 2,
		Name:   "architecture",
		RequiredTypes: []artifact.Type{
			artifact.TypeDataModel,
			artifact.TypeSolutionArchitecture,
		},
	},
	{
		Number: 3,
		Name:   "sds-signoff",
		RequiredTypes: []artifact.Type{
			artifact.TypeTechnicalDesign,
			artifact.TypeWBSPlan,
		},
	},
}

func marshalTypes(types []artifact.Type) (string, error) {
	data, err := json.Marshal(types)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal required types")
	}
	return string(data), nil
}

func unmarshalTypes(data string) ([]artifact.Type, error) {
	var types []artifact.Type
	if err := json.Unmarshal([]byte(data), &types); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal required types")
	}
	return types, nil
}
