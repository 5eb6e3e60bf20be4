package state

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Execution represents one end-to-end pipeline run for a project.
// Owned exclusively by the orchestrator; its state field is mutated only
// through Machine.TransitionTo. Executions are never deleted.
type Execution struct {
	ID             string       `json:"id"`
	Project        string       `json:"project"`
	State          State        `json:"state"`
	LegacyStatus   LegacyStatus `json:"legacy_status"`
	Paused         bool         `json:"paused"`
	StateUpdatedAt time.Time    `json:"state_updated_at"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewExecution creates a draft execution for a project.
func NewExecution(project string) *Execution {
	now := time.Now().UTC()
	return &Execution{
		ID:             "EXC_" + uuid.NewString(),
		Project:        project,
		State:          StateDraft,
		LegacyStatus:   LegacyPending,
		StateUpdatedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TransitionRecord is one immutable entry in an execution's state history.
// Write-once: records are appended on every transition and never modified.
type TransitionRecord struct {
	From     State             `json:"from"`
	To       State             `json:"to"`
	At       time.Time         `json:"at"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func marshalMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMetadata(data string) (map[string]string, error) {
	if data == "" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(data), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
