package pipeline

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamHATIT/fabrica/errors"
	fabricatest "github.com/SamHATIT/fabrica/internal/testing"
	"github.com/SamHATIT/fabrica/pipeline/artifact"
	"github.com/SamHATIT/fabrica/pipeline/gate"
	"github.com/SamHATIT/fabrica/pipeline/state"
	"github.com/SamHATIT/fabrica/pipeline/wbs"
	"github.com/SamHATIT/fabrica/worker"
)

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, req worker.GenerationRequest) (*worker.GenerationResult, error) {
	return &worker.GenerationResult{
		Files: map[string]string{"gen/" + req.PhaseName + "/" + req.TaskID + ".cls": "public class X {}"},
	}, nil
}

type stubReviewer struct {
	rejections int
}

func (r *stubReviewer) Review(_ context.Context, _ worker.ReviewRequest) (*worker.ReviewResult, error) {
	if r.rejections > 0 {
		r.rejections--
		return &worker.ReviewResult{Passed: false, Feedback: "not acceptable"}, nil
	}
	return &worker.ReviewResult{Passed: true}, nil
}

type stubDeployer struct{}

func (stubDeployer) Deploy(_ context.Context, _ map[string]string) (*worker.DeployResult, error) {
	return &worker.DeployResult{}, nil
}

func (stubDeployer) RunTests(_ context.Context, _ []string) (*worker.TestResult, error) {
	return &worker.TestResult{Passing: 3}, nil
}

type stubVC struct{}

func (stubVC) CreateBranch(_ context.Context, _, _ string) error { return nil }
func (stubVC) CommitFiles(_ context.Context, _ map[string]string, _ string) (string, error) {
	return "cafe123", nil
}
func (stubVC) CreatePR(_ context.Context, _, _, _, _ string) (string, error) {
	return "https://example.com/pr/1", nil
}

type orchFixture struct {
	orch      *Orchestrator
	db        *sql.DB
	artifacts *artifact.Store
	reviewer  *stubReviewer
	exec      *state.Execution
}

func newTestOrchestrator(t *testing.T) *orchFixture {
	t.Helper()
	conn := fabricatest.CreateTestDB(t)

	f := &orchFixture{
		db:        conn,
		artifacts: artifact.NewStore(conn),
		reviewer:  &stubReviewer{},
	}
	f.orch = New(conn, stubGenerator{}, f.reviewer, stubDeployer{}, stubVC{}, Options{}, nil, nil)

	exec, err := f.orch.CreateExecution("acme-crm")
	require.NoError(t, err)
	f.exec = exec
	return f
}

// approveGate produces the gate's required artifacts, recounts, submits,
// and approves.
func (f *orchFixture) approveGate(t *testing.T, number int) {
	t.Helper()
	def := gate.Definitions[number-1]
	for _, artType := range def.RequiredTypes {
		require.NoError(t, f.artifacts.Record(&artifact.Artifact{
			ExecutionID: f.exec.ID,
			Type:        artType,
			Name:        string(artType) + ".md",
		}))
	}
	_, err := f.orch.Gates().UpdateArtifactCount(f.exec.ID, number)
	require.NoError(t, err)
	_, err = f.orch.Gates().SubmitForReview(f.exec.ID, number)
	require.NoError(t, err)
	_, err = f.orch.Gates().Approve(f.exec.ID, number)
	require.NoError(t, err)
}

func (f *orchFixture) advance(t *testing.T, states ...state.State) {
	t.Helper()
	for _, s := range states {
		_, err := f.orch.Advance(f.exec.ID, s, nil)
		require.NoError(t, err, "advance to %s", s)
	}
}

// toSDSComplete walks the full SDS stage, approving gates at both human
// checkpoints.
func (f *orchFixture) toSDSComplete(t *testing.T) {
	t.Helper()
	f.advance(t, state.StateQueued, state.StateSDSPhase1Running,
		state.StateSDSPhase1Complete, state.StateWaitingBRValidation)
	f.approveGate(t, 1)
	f.advance(t, state.StateSDSPhase2Running, state.StateSDSPhase2Complete,
		state.StateSDSPhase3Running, state.StateSDSPhase3Complete,
		state.StateSDSPhase4Running, state.StateSDSPhase4Complete,
		state.StateWaitingArchitectureValidation)
	f.approveGate(t, 2)
	f.advance(t, state.StateSDSPhase5Running, state.StateSDSPhase5Complete,
		state.StateSDSComplete)
}

func TestCreateExecutionInitializesGates(t *testing.T) {
	f := newTestOrchestrator(t)

	assert.Equal(t, state.StateDraft, f.exec.State)

	gates, err := f.orch.Gates().Store().ListGates(f.exec.ID)
	require.NoError(t, err)
	require.Len(t, gates, 3)
	for _, g := range gates {
		assert.Equal(t, gate.StatusPending, g.Status)
	}
}

func TestAdvanceBlockedByUnapprovedGate(t *testing.T) {
	f := newTestOrchestrator(t)
	f.advance(t, state.StateQueued, state.StateSDSPhase1Running,
		state.StateSDSPhase1Complete, state.StateWaitingBRValidation)

	_, err := f.orch.Advance(f.exec.ID, state.StateSDSPhase2Running, nil)
	require.Error(t, err)
	assert.True(t, errors.IsGateTransitionError(err))

	// Approval unblocks the same transition.
	f.approveGate(t, 1)
	f.advance(t, state.StateSDSPhase2Running)
}

func TestRunBuildRefusedWithoutSignoffGate(t *testing.T) {
	f := newTestOrchestrator(t)
	f.toSDSComplete(t)

	err := f.orch.RunBuild(context.Background(), f.exec.ID)
	require.Error(t, err)
	assert.True(t, errors.IsGateTransitionError(err))
}

func TestRunBuildHappyPath(t *testing.T) {
	f := newTestOrchestrator(t)
	f.toSDSComplete(t)
	f.approveGate(t, 3)

	_, err := f.orch.LoadPlan(&wbs.Plan{
		ExecutionID: f.exec.ID,
		Items: []wbs.PlanItem{
			{TaskID: "OBJ-1", Name: "Invoice object", PhaseName: "data-model"},
			{TaskID: "CLS-1", Name: "Billing service", PhaseName: "business-logic"},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.orch.RunBuild(context.Background(), f.exec.ID))

	current, err := f.orch.Machine().CurrentState(f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateDeployed, current)

	status, err := f.orch.Status(f.exec.ID)
	require.NoError(t, err)
	for _, task := range status.Tasks {
		assert.Equal(t, wbs.StatusCompleted, task.Status)
	}
	require.Len(t, status.Phases, len(wbs.BuildPhases))
}

func TestRunBuildPhaseFailureMarksExecutionFailed(t *testing.T) {
	f := newTestOrchestrator(t)
	f.toSDSComplete(t)
	f.approveGate(t, 3)
	f.reviewer.rejections = wbs.MaxRetries

	_, err := f.orch.LoadPlan(&wbs.Plan{
		ExecutionID: f.exec.ID,
		Items:       []wbs.PlanItem{{TaskID: "OBJ-1", Name: "Invoice object", PhaseName: "data-model"}},
	})
	require.NoError(t, err)

	err = f.orch.RunBuild(context.Background(), f.exec.ID)
	require.Error(t, err)

	current, err := f.orch.Machine().CurrentState(f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateFailed, current)

	// Failure metadata survives in the transition history for diagnosis.
	history, err := f.orch.Machine().Store().History(f.exec.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, state.StateFailed, last.To)
	assert.Equal(t, "data-model", last.Metadata["step"])

	// An explicit requeue reuses the same execution row.
	require.NoError(t, f.orch.Requeue(f.exec.ID))
	current, err = f.orch.Machine().CurrentState(f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateQueued, current)
}

func TestRunBuildPausedLeavesBuildResumable(t *testing.T) {
	f := newTestOrchestrator(t)
	f.toSDSComplete(t)
	f.approveGate(t, 3)

	_, err := f.orch.LoadPlan(&wbs.Plan{
		ExecutionID: f.exec.ID,
		Items:       []wbs.PlanItem{{TaskID: "OBJ-1", Name: "Invoice object", PhaseName: "data-model"}},
	})
	require.NoError(t, err)
	require.NoError(t, f.orch.Pause(f.exec.ID))

	err = f.orch.RunBuild(context.Background(), f.exec.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExecutionPaused))

	// Not failed: the execution stays in its build state for a resume.
	current, err := f.orch.Machine().CurrentState(f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateBuildRunning, current)

	require.NoError(t, f.orch.Resume(f.exec.ID))
	require.NoError(t, f.orch.RunBuild(context.Background(), f.exec.ID))

	current, err = f.orch.Machine().CurrentState(f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateDeployed, current)
}

type countingGenerator struct {
	calls int
}

func (g *countingGenerator) Generate(_ context.Context, req worker.GenerationRequest) (*worker.GenerationResult, error) {
	g.calls++
	return &worker.GenerationResult{
		Files: map[string]string{"gen/" + req.PhaseName + "/" + req.TaskID + ".cls": "public class X {}"},
	}, nil
}

// pauseOnDeployDeployer sets the execution's pause flag while a phase is
// deploying, the way an operator pause lands mid-phase.
type pauseOnDeployDeployer struct {
	execs   *state.Store
	execID  string
	deploys int
}

func (d *pauseOnDeployDeployer) Deploy(_ context.Context, _ map[string]string) (*worker.DeployResult, error) {
	d.deploys++
	if err := d.execs.SetPaused(d.execID, true); err != nil {
		return nil, err
	}
	return &worker.DeployResult{}, nil
}

func (d *pauseOnDeployDeployer) RunTests(_ context.Context, _ []string) (*worker.TestResult, error) {
	return &worker.TestResult{Passing: 3}, nil
}

func TestPauseDuringLastPhaseStopsBeforeDeployed(t *testing.T) {
	conn := fabricatest.CreateTestDB(t)
	gen := &countingGenerator{}
	deployer := &pauseOnDeployDeployer{execs: state.NewStore(conn)}
	f := &orchFixture{
		db:        conn,
		artifacts: artifact.NewStore(conn),
		reviewer:  &stubReviewer{},
	}
	f.orch = New(conn, gen, f.reviewer, deployer, stubVC{}, Options{}, nil, nil)

	exec, err := f.orch.CreateExecution("acme-crm")
	require.NoError(t, err)
	f.exec = exec
	deployer.execID = exec.ID

	f.toSDSComplete(t)
	f.approveGate(t, 3)
	_, err = f.orch.LoadPlan(&wbs.Plan{
		ExecutionID: exec.ID,
		Items:       []wbs.PlanItem{{TaskID: "OBJ-1", Name: "Invoice object", PhaseName: "data-model"}},
	})
	require.NoError(t, err)

	// The pause lands while the only task-bearing phase deploys. The
	// empty phases after it are still suspension points: the build must
	// stop there instead of sailing through to deployed.
	err = f.orch.RunBuild(context.Background(), exec.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExecutionPaused))

	current, err := f.orch.Machine().CurrentState(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateBuildRunning, current)

	// Resume finishes the build without re-generating or re-deploying the
	// completed phase.
	require.NoError(t, f.orch.Resume(exec.ID))
	require.NoError(t, f.orch.RunBuild(context.Background(), exec.ID))

	current, err = f.orch.Machine().CurrentState(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateDeployed, current)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 1, deployer.deploys)
}

func TestRunBuildResumesFromValidating(t *testing.T) {
	f := newTestOrchestrator(t)
	f.toSDSComplete(t)
	f.approveGate(t, 3)
	f.advance(t, state.StateBuildQueued, state.StateBuildRunning, state.StateBuildValidating)
	require.NoError(t, f.orch.Pause(f.exec.ID))

	// Paused at the packaging step: nothing runs, the state keeps its
	// place for the resume.
	err := f.orch.RunBuild(context.Background(), f.exec.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExecutionPaused))

	current, err := f.orch.Machine().CurrentState(f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateBuildValidating, current)

	require.NoError(t, f.orch.Resume(f.exec.ID))
	require.NoError(t, f.orch.RunBuild(context.Background(), f.exec.ID))

	current, err = f.orch.Machine().CurrentState(f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateDeployed, current)
}

func TestCancelIsAStateTransition(t *testing.T) {
	f := newTestOrchestrator(t)
	f.advance(t, state.StateQueued, state.StateSDSPhase1Running)

	require.NoError(t, f.orch.Cancel(f.exec.ID))

	current, err := f.orch.Machine().CurrentState(f.exec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateCancelled, current)

	// Restart from cancelled reuses the same row.
	require.NoError(t, f.orch.Requeue(f.exec.ID))
}

func TestStaleExecutionsEmptyForFreshRun(t *testing.T) {
	f := newTestOrchestrator(t)
	stale, err := f.orch.StaleExecutions(0)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
