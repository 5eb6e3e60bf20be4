// Package worker defines the adapter interfaces the orchestration engine
// drives: content generation, review, deployment, and version control.
//
// Design: Dependency Inversion
// - the pipeline packages depend on these abstractions
// - adapter packages (worker/llm, worker/gitvc, worker/shell) provide
//   implementations
// - every call takes a context; callers apply per-call timeouts from config
package worker

import "context"

// GenerationRequest describes one generation call for a task or sub-batch.
type GenerationRequest struct {
	ExecutionID string `json:"execution_id"`
	TaskID      string `json:"task_id,omitempty"`
	PhaseName   string `json:"phase_name"`
	Instruction string `json:"instruction"`

	// Context carries accumulated outputs from earlier phases and sub-batches
	// so later generations can reference concrete earlier artifacts (class
	// signatures, object names) without re-deriving them.
	Context string `json:"context,omitempty"`

	// PreviousFeedback carries the prior attempt's failure or review feedback
	// as corrective input for a retry.
	PreviousFeedback string `json:"previous_feedback,omitempty"`
}

// GenerationResult is the outcome of a generation call.
type GenerationResult struct {
	Files map[string]string `json:"files"` // path -> content
	Notes string            `json:"notes,omitempty"`
}

// Generator produces files for a task or sub-batch.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// ReviewRequest asks for a verdict on a phase's aggregated output.
type ReviewRequest struct {
	ExecutionID string            `json:"execution_id"`
	PhaseName   string            `json:"phase_name"`
	Files       map[string]string `json:"files"`
}

// ReviewResult carries the verdict and, on failure, actionable feedback.
type ReviewResult struct {
	Passed   bool   `json:"passed"`
	Feedback string `json:"feedback,omitempty"`
}

// Reviewer judges aggregated phase output before deployment.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error)
}

// DeployResult reports what a deployment actually created or updated.
type DeployResult struct {
	DeployedComponents []string `json:"deployed_components"`
}

// TestResult reports a test run.
type TestResult struct {
	Passing int    `json:"passing"`
	Failing int    `json:"failing"`
	Output  string `json:"output,omitempty"`
}

// Deployer pushes generated files to the target environment and runs tests.
// Deploy must be idempotent: re-deploying the same file map after a partial
// failure upserts rather than duplicating components.
type Deployer interface {
	Deploy(ctx context.Context, files map[string]string) (*DeployResult, error)
	RunTests(ctx context.Context, names []string) (*TestResult, error)
}

// VersionControl manages branches, commits, and review requests for
// generated output.
type VersionControl interface {
	CreateBranch(ctx context.Context, name, base string) error
	CommitFiles(ctx context.Context, files map[string]string, message string) (sha string, err error)
	CreatePR(ctx context.Context, title, body, head, base string) (url string, err error)
}
