package batch

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/internal/util"
	"github.com/SamHATIT/fabrica/pipeline/event"
	"github.com/SamHATIT/fabrica/pipeline/state"
	"github.com/SamHATIT/fabrica/pipeline/wbs"
	"github.com/SamHATIT/fabrica/worker"
)

// PhaseExecutionError reports a phase that failed permanently: either
// its aggregate review or deployment exhausted the phase retry budget,
// or one of its tasks exhausted its own. It halts the execution: no
// later phase runs.
type PhaseExecutionError struct {
	PhaseName string
	Attempts  int
	Err       error
}

func (e *PhaseExecutionError) Error() string {
	return fmt.Sprintf("phase %s failed after %d attempts: %v", e.PhaseName, e.Attempts, e.Err)
}

func (e *PhaseExecutionError) Unwrap() error {
	return e.Err
}

// Executor runs BUILD phases strictly in order. Phase N+1 never starts
// before phase N's deployment succeeds: later phases generate code that
// references components that exist only after earlier phases deploy.
type Executor struct {
	engine     *wbs.Engine
	tasks      *wbs.Store
	progress   *ProgressStore
	execs      *state.Store
	registry   *ContextRegistry
	generator  worker.Generator
	reviewer   worker.Reviewer
	deployer   worker.Deployer
	vc         worker.VersionControl
	timeouts   wbs.Timeouts
	baseBranch string
	agentID    string
	sink       event.Sink
	logger     *zap.SugaredLogger
}

// NewExecutor creates a phase executor over the given database and
// worker adapters.
func NewExecutor(
	db *sql.DB,
	generator worker.Generator,
	reviewer worker.Reviewer,
	deployer worker.Deployer,
	vc worker.VersionControl,
	timeouts wbs.Timeouts,
	baseBranch string,
	sink event.Sink,
	logger *zap.SugaredLogger,
) *Executor {
	if baseBranch == "" {
		baseBranch = "main"
	}
	if sink == nil {
		sink = event.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	engine := wbs.NewEngine(db, generator, reviewer, deployer, vc, timeouts, sink, logger)
	return &Executor{
		engine:     engine,
		tasks:      engine.Store(),
		progress:   NewProgressStore(db),
		execs:      state.NewStore(db),
		registry:   NewContextRegistry(),
		generator:  generator,
		reviewer:   reviewer,
		deployer:   deployer,
		vc:         vc,
		timeouts:   timeouts,
		baseBranch: baseBranch,
		agentID:    "fabrica-build",
		sink:       sink,
		logger:     logger,
	}
}

// Progress exposes per-phase status rows for read paths.
func (x *Executor) Progress() *ProgressStore {
	return x.progress
}

// Registry exposes the accumulated-context registry.
func (x *Executor) Registry() *ContextRegistry {
	return x.registry
}

// ExecutePhase drives one phase: sub-batch generation with accumulated
// context, aggregation, structural validation, review, version control,
// and deployment. Generation failures are retried at sub-batch
// granularity against each task's own retry budget; aggregate failures
// (review, deploy) share the phase-level budget, and each phase retry
// re-generates the whole phase with the failure's feedback injected.
// Exhausting either budget fails the phase and returns
// PhaseExecutionError.
//
// A phase whose progress row is already completed is skipped, so a
// resumed build continues where the pause left it instead of
// re-generating and re-deploying finished phases.
func (x *Executor) ExecutePhase(ctx context.Context, executionID, phaseName string) error {
	if err := x.checkRunnable(ctx, executionID); err != nil {
		return err
	}

	phaseNumber := wbs.PhaseNumber(phaseName)
	if prior, err := x.progress.Get(executionID, phaseNumber); err == nil {
		if prior.Status == ProgressCompleted {
			x.logger.Debugw("Phase already completed, skipping",
				"execution_id", executionID, "phase", phaseName)
			return nil
		}
	} else if !errors.IsNotFoundError(err) {
		return err
	}

	tasks, err := x.tasks.ListByPhase(executionID, phaseName)
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		x.logger.Debugw("Phase has no tasks, skipping",
			"execution_id", executionID, "phase", phaseName)
		return x.writeProgress(executionID, phaseNumber, phaseName, ProgressCompleted, 0, "")
	}

	feedback := ""
	var lastErr error
	for attempt := 1; attempt <= wbs.MaxRetries; attempt++ {
		if err := x.checkRunnable(ctx, executionID); err != nil {
			return err
		}

		if err := x.writeProgress(executionID, phaseNumber, phaseName, ProgressRunning, attempt, ""); err != nil {
			return err
		}
		x.publishPhase(executionID, phaseName, ProgressRunning, attempt)

		err := x.runAttempt(ctx, executionID, phaseNumber, phaseName, tasks, feedback)
		if err == nil {
			if err := x.completePhase(executionID, phaseNumber, phaseName, attempt, tasks); err != nil {
				return err
			}
			return nil
		}
		if errors.Is(err, errors.ErrExecutionPaused) || ctx.Err() != nil {
			return err
		}

		// A task that exhausted its own budget is permanently failed;
		// retrying the phase cannot bring it back.
		var taskErr *wbs.TaskExecutionError
		if errors.As(err, &taskErr) {
			if failErr := x.failPhase(executionID, phaseNumber, phaseName, tasks, err); failErr != nil {
				return failErr
			}
			return &PhaseExecutionError{PhaseName: phaseName, Attempts: attempt, Err: err}
		}

		lastErr = err
		feedback = err.Error()
		x.logger.Warnw("Phase attempt failed",
			"execution_id", executionID,
			"phase", phaseName,
			"attempt", attempt,
			"max_retries", wbs.MaxRetries,
			"error", err,
		)
		if err := x.resetPhaseTasks(tasks); err != nil {
			return err
		}
	}

	if err := x.failPhase(executionID, phaseNumber, phaseName, tasks, lastErr); err != nil {
		return err
	}
	return &PhaseExecutionError{PhaseName: phaseName, Attempts: wbs.MaxRetries, Err: lastErr}
}

// runAttempt performs one full generate-aggregate-validate-review-vc-deploy
// pass for the phase. Any error is attempt-scoped: the caller decides
// whether budget remains.
func (x *Executor) runAttempt(
	ctx context.Context,
	executionID string,
	phaseNumber int,
	phaseName string,
	tasks []*wbs.Task,
	feedback string,
) error {
	aggregate := make(map[string]string)
	var operations []string

	for _, subBatch := range RuleFor(phaseName)(tasks) {
		if err := x.checkRunnable(ctx, executionID); err != nil {
			return err
		}

		for _, t := range subBatch {
			if err := x.setTaskStatus(t, wbs.StatusRunning); err != nil {
				return err
			}
		}

		genContext := x.registry.Accumulated(phaseNumber)
		if len(aggregate) > 0 {
			genContext = genContext + "\n\n" + describeFiles(phaseName, aggregate)
		}

		result, err := x.generateSubBatch(ctx, executionID, phaseName, subBatch, genContext, feedback)
		if err != nil {
			return err
		}

		for path, content := range result.Files {
			aggregate[path] = content
		}
		for _, t := range subBatch {
			operations = append(operations, t.TaskID)
		}
	}

	if err := validateAggregate(aggregate); err != nil {
		return err
	}

	revCtx, cancel := context.WithTimeout(ctx, x.timeouts.Generate)
	review, err := x.reviewer.Review(revCtx, worker.ReviewRequest{
		ExecutionID: executionID,
		PhaseName:   phaseName,
		Files:       aggregate,
	})
	cancel()
	if err != nil {
		return errors.Wrap(err, "phase review call failed")
	}
	if !review.Passed {
		return errors.Newf("review verdict: fail: %s", review.Feedback)
	}

	branch := fmt.Sprintf("build/phase-%d-%s", phaseNumber, phaseName)
	commitCtx, cancel := context.WithTimeout(ctx, x.timeouts.Commit)
	defer cancel()
	if err := x.vc.CreateBranch(commitCtx, branch, x.baseBranch); err != nil {
		return errors.Wrapf(err, "failed to create branch %s", branch)
	}
	message := fmt.Sprintf("%s: %s", phaseName, strings.Join(operations, ", "))
	sha, err := x.vc.CommitFiles(commitCtx, aggregate, message)
	if err != nil {
		return errors.Wrap(err, "failed to commit phase files")
	}
	prURL, err := x.vc.CreatePR(commitCtx,
		fmt.Sprintf("Build phase %d: %s", phaseNumber, phaseName),
		fmt.Sprintf("Generated output for %s (%d files, tasks %s).",
			phaseName, len(aggregate), strings.Join(operations, ", ")),
		branch, x.baseBranch)
	if err != nil {
		return errors.Wrap(err, "failed to open review request")
	}

	depCtx, cancel := context.WithTimeout(ctx, x.timeouts.Deploy)
	deployed, err := x.deployer.Deploy(depCtx, aggregate)
	cancel()
	if err != nil {
		return errors.Wrap(err, "phase deployment failed")
	}

	for _, t := range tasks {
		t.CommitSHA = sha
		t.PRURL = prURL
	}
	x.registry.Add(phaseNumber, describeFiles(phaseName, aggregate))

	x.logger.Infow("Phase attempt succeeded",
		"execution_id", executionID,
		"phase", phaseName,
		"files", len(aggregate),
		"deployed_components", len(deployed.DeployedComponents),
		"pr_url", prURL,
	)
	return nil
}

// generateSubBatch calls the generator for one sub-batch, retrying
// within the attempt. Each failed call is charged to every member
// task's own retry budget through the engine, and the failure is fed
// back into the next try. The phase-level budget stays untouched: it is
// reserved for aggregate review and deploy failures. A task exhausting
// its budget ends the retries; the TaskExecutionError propagates to the
// caller.
func (x *Executor) generateSubBatch(
	ctx context.Context,
	executionID, phaseName string,
	subBatch []*wbs.Task,
	genContext, feedback string,
) (*worker.GenerationResult, error) {
	for {
		genCtx, cancel := context.WithTimeout(ctx, x.timeouts.Generate)
		result, err := x.generator.Generate(genCtx, worker.GenerationRequest{
			ExecutionID:      executionID,
			TaskID:           subBatchID(subBatch),
			PhaseName:        phaseName,
			Instruction:      subBatchInstruction(subBatch),
			Context:          genContext,
			PreviousFeedback: feedback,
		})
		cancel()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "build cancelled")
		}

		cause := errors.Wrapf(err, "sub-batch %s generation failed", subBatchID(subBatch))
		var exhausted *wbs.TaskExecutionError
		for _, t := range subBatch {
			failErr := x.engine.FailAttempt(t, "generate", cause)
			var taskErr *wbs.TaskExecutionError
			if !errors.As(failErr, &taskErr) {
				return nil, failErr
			}
			if t.Status == wbs.StatusFailed {
				exhausted = taskErr
			}
		}
		if exhausted != nil {
			return nil, exhausted
		}

		feedback = cause.Error()
		for _, t := range subBatch {
			if err := x.setTaskStatus(t, wbs.StatusRunning); err != nil {
				return nil, err
			}
		}
	}
}

// FinalPackaging runs the target's full test suite as the packaging step
// after the last phase deploys.
func (x *Executor) FinalPackaging(ctx context.Context, executionID string) error {
	if err := x.checkRunnable(ctx, executionID); err != nil {
		return err
	}

	testCtx, cancel := context.WithTimeout(ctx, x.timeouts.Deploy)
	defer cancel()

	result, err := x.deployer.RunTests(testCtx, nil)
	if err != nil {
		return errors.Wrap(err, "final packaging test run failed")
	}
	if result.Failing > 0 {
		return errors.Newf("final packaging: %d tests failing", result.Failing)
	}

	x.logger.Infow("Final packaging complete",
		"execution_id", executionID,
		"tests_passing", result.Passing,
	)
	return nil
}

// checkRunnable enforces the cooperative suspension points: context
// cancellation and the execution's paused flag, observed between
// external calls rather than mid-call.
func (x *Executor) checkRunnable(ctx context.Context, executionID string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "build cancelled")
	}
	exec, err := x.execs.GetExecution(executionID)
	if err != nil {
		return err
	}
	if exec.Paused {
		return errors.Wrapf(errors.ErrExecutionPaused, "execution %s", executionID)
	}
	return nil
}

func (x *Executor) completePhase(executionID string, phaseNumber int, phaseName string, attempt int, tasks []*wbs.Task) error {
	for _, t := range tasks {
		if err := x.setTaskStatus(t, wbs.StatusCompleted); err != nil {
			return err
		}
	}
	if err := x.writeProgress(executionID, phaseNumber, phaseName, ProgressCompleted, attempt, ""); err != nil {
		return err
	}
	x.publishPhase(executionID, phaseName, ProgressCompleted, attempt)
	x.logger.Infow("Phase completed",
		"execution_id", executionID,
		"phase", phaseName,
		"attempts", attempt,
	)
	return nil
}

func (x *Executor) failPhase(executionID string, phaseNumber int, phaseName string, tasks []*wbs.Task, cause error) error {
	for _, t := range tasks {
		if t.Status.IsTerminal() {
			continue
		}
		t.LastError = cause.Error()
		if err := x.setTaskStatus(t, wbs.StatusFailed); err != nil {
			return err
		}
	}

	p := &PhaseProgress{
		ExecutionID:  executionID,
		PhaseNumber:  phaseNumber,
		PhaseName:    phaseName,
		Status:       ProgressFailed,
		AgentID:      x.agentID,
		AttemptCount: wbs.MaxRetries,
		StartedAt:    util.Ptr(time.Now().UTC()),
		CompletedAt:  util.Ptr(time.Now().UTC()),
		LastError:    cause.Error(),
	}
	if err := x.progress.Upsert(p); err != nil {
		return err
	}
	x.publishPhase(executionID, phaseName, ProgressFailed, wbs.MaxRetries)
	x.logger.Errorw("Phase failed permanently, halting build",
		"execution_id", executionID,
		"phase", phaseName,
		"error", cause,
	)
	return nil
}

// resetPhaseTasks returns non-terminal phase tasks to pending between
// attempts so the next attempt re-generates the whole phase.
func (x *Executor) resetPhaseTasks(tasks []*wbs.Task) error {
	for _, t := range tasks {
		if t.Status.IsTerminal() {
			continue
		}
		if err := x.setTaskStatus(t, wbs.StatusPending); err != nil {
			return err
		}
	}
	return nil
}

func (x *Executor) writeProgress(executionID string, phaseNumber int, phaseName string, status ProgressStatus, attempt int, lastError string) error {
	p := &PhaseProgress{
		ExecutionID:  executionID,
		PhaseNumber:  phaseNumber,
		PhaseName:    phaseName,
		Status:       status,
		AgentID:      x.agentID,
		AttemptCount: attempt,
		LastError:    lastError,
	}
	now := time.Now().UTC()
	if status != ProgressPending {
		p.StartedAt = util.Ptr(now)
	}
	if status == ProgressCompleted || status == ProgressFailed {
		p.CompletedAt = util.Ptr(now)
	}
	return x.progress.Upsert(p)
}

func (x *Executor) setTaskStatus(task *wbs.Task, status wbs.Status) error {
	task.Status = status
	if err := x.tasks.UpdateTask(task); err != nil {
		return err
	}
	x.sink.Publish(event.New(event.KindTask, task.ExecutionID, map[string]string{
		"task_id": task.TaskID,
		"status":  string(status),
	}))
	return nil
}

func (x *Executor) publishPhase(executionID, phaseName string, status ProgressStatus, attempt int) {
	x.sink.Publish(event.New(event.KindPhase, executionID, map[string]string{
		"phase":   phaseName,
		"status":  string(status),
		"attempt": fmt.Sprintf("%d", attempt),
	}))
}

// validateAggregate is the cheap structural pass run before review: the
// aggregate must contain at least one file, and every entry must have a
// usable path and non-empty content.
func validateAggregate(files map[string]string) error {
	if len(files) == 0 {
		return errors.New("structural validation: aggregate contains no files")
	}
	for path, content := range files {
		if strings.TrimSpace(path) == "" {
			return errors.New("structural validation: empty file path in aggregate")
		}
		if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
			return errors.Newf("structural validation: unsafe file path %q", path)
		}
		if strings.TrimSpace(content) == "" {
			return errors.Newf("structural validation: file %s has no content", path)
		}
	}
	return nil
}

func subBatchID(subBatch []*wbs.Task) string {
	ids := make([]string, len(subBatch))
	for i, t := range subBatch {
		ids[i] = t.TaskID
	}
	return strings.Join(ids, ",")
}

func subBatchInstruction(subBatch []*wbs.Task) string {
	names := make([]string, len(subBatch))
	for i, t := range subBatch {
		names[i] = t.Name
	}
	return strings.Join(names, "; ")
}

// describeFiles summarizes a phase's output for the context registry.
func describeFiles(phaseName string, files map[string]string) string {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return fmt.Sprintf("Phase %s produced: %s", phaseName, strings.Join(paths, ", "))
}
