// Package wbs owns the work-breakdown-structure task lifecycle:
// dependency-aware scheduling, bounded retry, and failure propagation.
package wbs

import (
	"encoding/json"
	"time"

	"github.com/SamHATIT/fabrica/errors"
)

// MaxRetries is the retry budget per task. Exhausting it is the only path
// to the failed status.
const MaxRetries = 3

// Status represents the current state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusTesting    Status = "testing"
	StatusPassed     Status = "passed"
	StatusDeploying  Status = "deploying"
	StatusCommitting Status = "committing"
	StatusCompleted  Status = "completed"
	// StatusFailed: retries exhausted. Distinguished from blocked (never ran)
	// for diagnosis.
	StatusFailed Status = "failed"
	// StatusBlocked: a dependency failed before this task could run.
	StatusBlocked Status = "blocked"
	// StatusSkipped: administrative terminal outcome; does not block dependents.
	StatusSkipped Status = "skipped"
)

// IsTerminal reports whether the status admits no further scheduling.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBlocked, StatusSkipped:
		return true
	default:
		return false
	}
}

// Task is one WBS item belonging to exactly one execution. Rows are
// created in bulk when a plan is loaded and never deleted; status is
// mutated exclusively by the Engine.
type Task struct {
	ExecutionID    string    `json:"execution_id"`
	TaskID         string    `json:"task_id"` // stable, from the WBS plan
	Name           string    `json:"name"`
	PhaseName      string    `json:"phase_name"`
	BuildPhase     int       `json:"build_phase"`
	AssignedWorker string    `json:"assigned_worker"`
	Status         Status    `json:"status"`
	DependsOn      []string  `json:"depends_on"`
	AttemptCount   int       `json:"attempt_count"`
	LastError      string    `json:"last_error,omitempty"`
	ArtifactRefs   []string  `json:"artifact_refs,omitempty"`
	CommitSHA      string    `json:"commit_sha,omitempty"`
	PRURL          string    `json:"pr_url,omitempty"`
	Seq            int       `json:"seq"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PlanItem is one entry of a work-breakdown plan.
type PlanItem struct {
	TaskID         string   `json:"task_id"`
	Name           string   `json:"name"`
	PhaseName      string   `json:"phase_name"`
	AssignedWorker string   `json:"assigned_worker,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
}

// Plan is a work-breakdown plan for one execution. Item order is
// preserved as scheduling order.
type Plan struct {
	ExecutionID string     `json:"execution_id"`
	Items       []PlanItem `json:"items"`
}

// TaskExecutionError reports a failed generation/review/deploy/commit step.
// Recovered locally by retry until the budget runs out.
type TaskExecutionError struct {
	TaskID string
	Step   string
	Err    error
}

func (e *TaskExecutionError) Error() string {
	return "task " + e.TaskID + " " + e.Step + " failed: " + e.Err.Error()
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Err
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal string list")
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal string list")
	}
	return values, nil
}
