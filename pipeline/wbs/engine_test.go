package wbs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamHATIT/fabrica/errors"
	fabricatest "github.com/SamHATIT/fabrica/internal/testing"
	"github.com/SamHATIT/fabrica/pipeline/state"
	"github.com/SamHATIT/fabrica/worker"
)

type fakeGenerator struct {
	requests []worker.GenerationRequest
	failures int // fail this many calls before succeeding
}

func (g *fakeGenerator) Generate(_ context.Context, req worker.GenerationRequest) (*worker.GenerationResult, error) {
	g.requests = append(g.requests, req)
	if g.failures > 0 {
		g.failures--
		return nil, errors.New("model returned malformed output")
	}
	return &worker.GenerationResult{
		Files: map[string]string{"force-app/main/default/classes/Gen.cls": "public class Gen {}"},
	}, nil
}

type fakeReviewer struct {
	rejections int // reject this many calls before passing
	feedback   string
}

func (r *fakeReviewer) Review(_ context.Context, _ worker.ReviewRequest) (*worker.ReviewResult, error) {
	if r.rejections > 0 {
		r.rejections--
		return &worker.ReviewResult{Passed: false, Feedback: r.feedback}, nil
	}
	return &worker.ReviewResult{Passed: true}, nil
}

type fakeDeployer struct {
	failures int
	calls    int
}

func (d *fakeDeployer) Deploy(_ context.Context, files map[string]string) (*worker.DeployResult, error) {
	d.calls++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("deploy rejected by target")
	}
	components := make([]string, 0, len(files))
	for path := range files {
		components = append(components, path)
	}
	return &worker.DeployResult{DeployedComponents: components}, nil
}

func (d *fakeDeployer) RunTests(_ context.Context, _ []string) (*worker.TestResult, error) {
	return &worker.TestResult{Passing: 1}, nil
}

type fakeVC struct {
	commits []string
}

func (v *fakeVC) CreateBranch(_ context.Context, _, _ string) error { return nil }

func (v *fakeVC) CommitFiles(_ context.Context, _ map[string]string, message string) (string, error) {
	v.commits = append(v.commits, message)
	return "abc1234", nil
}

func (v *fakeVC) CreatePR(_ context.Context, _, _, _, _ string) (string, error) {
	return "https://example.com/pr/1", nil
}

type engineFixture struct {
	engine   *Engine
	execs    *state.Store
	exec     *state.Execution
	gen      *fakeGenerator
	reviewer *fakeReviewer
	deployer *fakeDeployer
	vc       *fakeVC
}

func newTestEngine(t *testing.T) *engineFixture {
	t.Helper()
	conn := fabricatest.CreateTestDB(t)

	f := &engineFixture{
		execs:    state.NewStore(conn),
		gen:      &fakeGenerator{},
		reviewer: &fakeReviewer{},
		deployer: &fakeDeployer{},
		vc:       &fakeVC{},
	}
	f.engine = NewEngine(conn, f.gen, f.reviewer, f.deployer, f.vc, DefaultTimeouts(), nil, nil)

	f.exec = state.NewExecution("acme-crm")
	require.NoError(t, f.execs.CreateExecution(f.exec))
	return f
}

func (f *engineFixture) loadPlan(t *testing.T, items ...PlanItem) {
	t.Helper()
	_, err := f.engine.LoadPlan(&Plan{ExecutionID: f.exec.ID, Items: items})
	require.NoError(t, err)
}

func (f *engineFixture) task(t *testing.T, taskID string) *Task {
	t.Helper()
	task, err := f.engine.Store().GetTask(f.exec.ID, taskID)
	require.NoError(t, err)
	return task
}

func chainPlan() []PlanItem {
	return []PlanItem{
		{TaskID: "T-001", Name: "Account custom fields", PhaseName: "data-model"},
		{TaskID: "T-002", Name: "Billing service class", PhaseName: "business-logic", DependsOn: []string{"T-001"}},
		{TaskID: "T-003", Name: "Billing LWC", PhaseName: "ui", DependsOn: []string{"T-002"}},
	}
}

func TestLoadPlanIdempotent(t *testing.T) {
	f := newTestEngine(t)

	inserted, err := f.engine.LoadPlan(&Plan{ExecutionID: f.exec.ID, Items: chainPlan()})
	require.NoError(t, err)
	assert.Len(t, inserted, 3)

	// Re-loading the same plan plus one new item only inserts the new one.
	items := append(chainPlan(), PlanItem{TaskID: "T-004", Name: "Validation rule", PhaseName: "security"})
	inserted, err = f.engine.LoadPlan(&Plan{ExecutionID: f.exec.ID, Items: items})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "T-004", inserted[0].TaskID)
	assert.Equal(t, 4, inserted[0].Seq)

	tasks, err := f.engine.Store().ListTasks(f.exec.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 4)
}

func TestLoadPlanResolvesBuildPhase(t *testing.T) {
	f := newTestEngine(t)
	f.loadPlan(t, chainPlan()...)

	assert.Equal(t, 1, f.task(t, "T-001").BuildPhase)
	assert.Equal(t, 2, f.task(t, "T-002").BuildPhase)
	assert.Equal(t, 3, f.task(t, "T-003").BuildPhase)
}

func TestNextRunnableFollowsDependencies(t *testing.T) {
	f := newTestEngine(t)
	f.loadPlan(t, chainPlan()...)

	next, err := f.engine.NextRunnable(f.exec.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "T-001", next.TaskID)

	require.NoError(t, f.engine.ExecuteTask(context.Background(), next, ""))

	next, err = f.engine.NextRunnable(f.exec.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "T-002", next.TaskID)
}

func TestNextRunnablePausedExecution(t *testing.T) {
	f := newTestEngine(t)
	f.loadPlan(t, chainPlan()...)

	require.NoError(t, f.execs.SetPaused(f.exec.ID, true))

	next, err := f.engine.NextRunnable(f.exec.ID)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestExecuteTaskHappyPath(t *testing.T) {
	f := newTestEngine(t)
	f.loadPlan(t, chainPlan()...)

	task := f.task(t, "T-001")
	require.NoError(t, f.engine.ExecuteTask(context.Background(), task, "phase context"))

	got := f.task(t, "T-001")
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "abc1234", got.CommitSHA)
	assert.NotEmpty(t, got.ArtifactRefs)
	assert.Empty(t, got.LastError)

	require.Len(t, f.gen.requests, 1)
	assert.Equal(t, "phase context", f.gen.requests[0].Context)
	assert.Empty(t, f.gen.requests[0].PreviousFeedback)
	require.Len(t, f.vc.commits, 1)
	assert.Contains(t, f.vc.commits[0], "Account custom fields")
}

func TestRetryFeedsBackPreviousError(t *testing.T) {
	f := newTestEngine(t)
	f.loadPlan(t, chainPlan()...)
	f.reviewer.rejections = 1
	f.reviewer.feedback = "missing null check in getAmount"

	task := f.task(t, "T-001")
	err := f.engine.ExecuteTask(context.Background(), task, "")
	require.Error(t, err)

	var taskErr *TaskExecutionError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "T-001", taskErr.TaskID)
	assert.Equal(t, "review", taskErr.Step)

	got := f.task(t, "T-001")
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Contains(t, got.LastError, "missing null check")

	// Still the next runnable: a retry of the same task, with the prior
	// failure passed through as corrective feedback.
	next, err := f.engine.NextRunnable(f.exec.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "T-001", next.TaskID)

	require.NoError(t, f.engine.ExecuteTask(context.Background(), next, ""))
	require.Len(t, f.gen.requests, 2)
	assert.Contains(t, f.gen.requests[1].PreviousFeedback, "missing null check")
	assert.Equal(t, StatusCompleted, f.task(t, "T-001").Status)
}

func TestRetryExhaustionBlocksDependents(t *testing.T) {
	f := newTestEngine(t)
	f.loadPlan(t, chainPlan()...)
	f.gen.failures = MaxRetries

	for i := 0; i < MaxRetries; i++ {
		next, err := f.engine.NextRunnable(f.exec.ID)
		require.NoError(t, err)
		require.NotNil(t, next, "attempt %d", i+1)
		require.Error(t, f.engine.ExecuteTask(context.Background(), next, ""))
	}

	assert.Equal(t, StatusFailed, f.task(t, "T-001").Status)
	assert.Equal(t, MaxRetries, f.task(t, "T-001").AttemptCount)

	// Direct dependent is blocked; its own dependent never becomes
	// runnable because the chain is broken.
	blocked := f.task(t, "T-002")
	assert.Equal(t, StatusBlocked, blocked.Status)
	assert.Contains(t, blocked.LastError, "T-001")
	assert.Equal(t, StatusPending, f.task(t, "T-003").Status)

	next, err := f.engine.NextRunnable(f.exec.ID)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestSkippedDependencySatisfiesDependents(t *testing.T) {
	f := newTestEngine(t)
	f.loadPlan(t, chainPlan()...)

	skipped, err := f.engine.SkipTask(f.exec.ID, "T-001", "already exists in org")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, skipped.Status)

	next, err := f.engine.NextRunnable(f.exec.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "T-002", next.TaskID)
}

func TestResetTaskClearsRetryState(t *testing.T) {
	f := newTestEngine(t)
	f.loadPlan(t, chainPlan()...)
	f.gen.failures = MaxRetries

	for i := 0; i < MaxRetries; i++ {
		task := f.task(t, "T-001")
		require.Error(t, f.engine.ExecuteTask(context.Background(), task, ""))
	}
	require.Equal(t, StatusFailed, f.task(t, "T-001").Status)

	reset, err := f.engine.ResetTask(f.exec.ID, "T-001")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, reset.Status)
	assert.Equal(t, 0, reset.AttemptCount)
	assert.Empty(t, reset.LastError)

	next, err := f.engine.NextRunnable(f.exec.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "T-001", next.TaskID)
}

func TestResetUnknownTask(t *testing.T) {
	f := newTestEngine(t)
	_, err := f.engine.ResetTask(f.exec.ID, "T-404")
	assert.True(t, errors.IsNotFoundError(err))
}
