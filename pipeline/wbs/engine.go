package wbs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/pipeline/event"
	"github.com/SamHATIT/fabrica/pipeline/state"
	"github.com/SamHATIT/fabrica/worker"
)

// BuildPhases is the fixed BUILD phase order. Later phases generate code
// that references components only guaranteed to exist after earlier phases
// deploy, so the order is a hard guarantee, not a preference.
var BuildPhases = []string{
	"data-model",
	"business-logic",
	"ui",
	"automation",
	"security",
	"data-migration",
}

// PhaseNumber returns the 1-based ordinal of a BUILD phase name, or 0 if
// the name is not a BUILD phase.
func PhaseNumber(phaseName string) int {
	for i, name := range BuildPhases {
		if name == phaseName {
			return i + 1
		}
	}
	return 0
}

// Timeouts bounds each external call the engine makes. Generation calls
// run longest; deploy and test calls come next.
type Timeouts struct {
	Generate time.Duration
	Deploy   time.Duration
	Commit   time.Duration
}

// DefaultTimeouts returns sensible per-call bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Generate: 10 * time.Minute,
		Deploy:   5 * time.Minute,
		Commit:   1 * time.Minute,
	}
}

// Engine owns the lifecycle of individual tasks within a phase: loading
// plans, resolving the next runnable task, driving the per-task
// generate -> review -> deploy -> commit cycle, and propagating failure.
type Engine struct {
	store     *Store
	execs     *state.Store
	generator worker.Generator
	reviewer  worker.Reviewer
	deployer  worker.Deployer
	vc        worker.VersionControl
	timeouts  Timeouts
	sink      event.Sink
	logger    *zap.SugaredLogger
}

// NewEngine creates a task engine over the given database and adapters.
func NewEngine(
	db *sql.DB,
	generator worker.Generator,
	reviewer worker.Reviewer,
	deployer worker.Deployer,
	vc worker.VersionControl,
	timeouts Timeouts,
	sink event.Sink,
	logger *zap.SugaredLogger,
) *Engine {
	if sink == nil {
		sink = event.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		store:     NewStore(db),
		execs:     state.NewStore(db),
		generator: generator,
		reviewer:  reviewer,
		deployer:  deployer,
		vc:        vc,
		timeouts:  timeouts,
		sink:      sink,
		logger:    logger,
	}
}

// Store exposes the underlying task store for read paths.
func (e *Engine) Store() *Store {
	return e.store
}

// LoadPlan bulk-inserts a work-breakdown plan's tasks. Idempotent:
// task IDs already present are left untouched, only new ones are inserted.
func (e *Engine) LoadPlan(plan *Plan) ([]*Task, error) {
	existing, err := e.store.ExistingTaskIDs(plan.ExecutionID)
	if err != nil {
		return nil, err
	}
	seq, err := e.store.MaxSeq(plan.ExecutionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var inserted []*Task
	for _, item := range plan.Items {
		if existing[item.TaskID] {
			continue
		}
		seq++
		task := &Task{
			ExecutionID:    plan.ExecutionID,
			TaskID:         item.TaskID,
			Name:           item.Name,
			PhaseName:      item.PhaseName,
			BuildPhase:     PhaseNumber(item.PhaseName),
			AssignedWorker: item.AssignedWorker,
			Status:         StatusPending,
			DependsOn:      item.DependsOn,
			Seq:            seq,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.store.CreateTask(task); err != nil {
			return nil, err
		}
		inserted = append(inserted, task)
	}

	e.logger.Infow("Plan loaded",
		"execution_id", plan.ExecutionID,
		"items", len(plan.Items),
		"inserted", len(inserted),
	)
	return inserted, nil
}

// NextRunnable returns the first pending task (in plan order) whose every
// dependency is satisfied, or nil when the execution is paused, when the
// remaining pending tasks are all waiting on unfinished or failed
// dependencies, or when every task is terminal.
//
// A skipped dependency satisfies its dependents; skip is a non-failure
// outcome.
func (e *Engine) NextRunnable(executionID string) (*Task, error) {
	exec, err := e.execs.GetExecution(executionID)
	if err != nil {
		return nil, err
	}
	if exec.Paused {
		e.logger.Debugw("Execution paused, not dequeuing", "execution_id", executionID)
		return nil, nil
	}

	tasks, err := e.store.ListTasks(executionID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.TaskID] = t
	}

	pendingRemain := false
	for _, t := range tasks {
		if t.Status != StatusPending {
			if t.Status == StatusBlocked {
				pendingRemain = true
			}
			continue
		}
		pendingRemain = true

		satisfied := true
		for _, depID := range t.DependsOn {
			dep, ok := byID[depID]
			if !ok || (dep.Status != StatusCompleted && dep.Status != StatusSkipped) {
				satisfied = false
				break
			}
		}
		if satisfied {
			return t, nil
		}
	}

	if pendingRemain {
		e.logger.Warnw("No runnable task but pending or blocked tasks remain",
			"execution_id", executionID)
	}
	return nil, nil
}

// ExecuteTask drives one task through its full sub-cycle using the worker
// adapters, updating status at each boundary. genContext carries the
// accumulated outputs of earlier phases and sub-batches.
//
// On a step failure the task either returns to pending for a same-task
// retry (with the failure recorded as corrective feedback for the next
// generation call), or, once the retry budget is exhausted, becomes
// permanently failed and every pending dependent is blocked.
func (e *Engine) ExecuteTask(ctx context.Context, task *Task, genContext string) error {
	feedback := ""
	if task.AttemptCount > 0 {
		feedback = task.LastError
	}

	if err := e.setStatus(task, StatusRunning); err != nil {
		return err
	}

	genCtx, cancel := context.WithTimeout(ctx, e.timeouts.Generate)
	result, err := e.generator.Generate(genCtx, worker.GenerationRequest{
		ExecutionID:      task.ExecutionID,
		TaskID:           task.TaskID,
		PhaseName:        task.PhaseName,
		Instruction:      task.Name,
		Context:          genContext,
		PreviousFeedback: feedback,
	})
	cancel()
	if err != nil {
		return e.stepFailed(task, "generate", err)
	}

	for path := range result.Files {
		task.ArtifactRefs = append(task.ArtifactRefs, path)
	}

	if err := e.setStatus(task, StatusTesting); err != nil {
		return err
	}

	revCtx, cancel := context.WithTimeout(ctx, e.timeouts.Generate)
	review, err := e.reviewer.Review(revCtx, worker.ReviewRequest{
		ExecutionID: task.ExecutionID,
		PhaseName:   task.PhaseName,
		Files:       result.Files,
	})
	cancel()
	if err != nil {
		return e.stepFailed(task, "review", err)
	}
	if !review.Passed {
		return e.stepFailed(task, "review", errors.Newf("review verdict: fail: %s", review.Feedback))
	}

	if err := e.setStatus(task, StatusPassed); err != nil {
		return err
	}
	if err := e.setStatus(task, StatusDeploying); err != nil {
		return err
	}

	depCtx, cancel := context.WithTimeout(ctx, e.timeouts.Deploy)
	_, err = e.deployer.Deploy(depCtx, result.Files)
	cancel()
	if err != nil {
		return e.stepFailed(task, "deploy", err)
	}

	if err := e.setStatus(task, StatusCommitting); err != nil {
		return err
	}

	commitCtx, cancel := context.WithTimeout(ctx, e.timeouts.Commit)
	sha, err := e.vc.CommitFiles(commitCtx, result.Files,
		fmt.Sprintf("%s: %s", task.PhaseName, task.Name))
	cancel()
	if err != nil {
		return e.stepFailed(task, "commit", err)
	}
	task.CommitSHA = sha

	task.LastError = ""
	if err := e.setStatus(task, StatusCompleted); err != nil {
		return err
	}

	e.logger.Infow("Task completed",
		"execution_id", task.ExecutionID,
		"task_id", task.TaskID,
		"attempts", task.AttemptCount+1,
	)
	return nil
}

// ResetTask is an administrative override: clears the attempt count and
// error and returns the task to pending.
func (e *Engine) ResetTask(executionID, taskID string) (*Task, error) {
	task, err := e.store.GetTask(executionID, taskID)
	if err != nil {
		return nil, err
	}

	task.AttemptCount = 0
	task.LastError = ""
	if err := e.setStatus(task, StatusPending); err != nil {
		return nil, err
	}
	return task, nil
}

// SkipTask is an administrative override: marks the task skipped, a
// terminal non-failure outcome that does not block dependents.
func (e *Engine) SkipTask(executionID, taskID, reason string) (*Task, error) {
	task, err := e.store.GetTask(executionID, taskID)
	if err != nil {
		return nil, err
	}

	task.LastError = reason
	if err := e.setStatus(task, StatusSkipped); err != nil {
		return nil, err
	}

	e.logger.Infow("Task skipped",
		"execution_id", executionID,
		"task_id", taskID,
		"reason", reason,
	)
	return task, nil
}

// FailAttempt records a failed execution step against the task's retry
// budget. While attempts remain the task returns to pending; exhausting
// the budget fails it permanently and blocks its pending dependents. The
// returned TaskExecutionError wraps the cause either way; the task's
// status afterwards tells the caller whether another attempt is allowed.
func (e *Engine) FailAttempt(task *Task, step string, cause error) error {
	return e.stepFailed(task, step, cause)
}

// stepFailed records a step failure and applies the retry policy:
// same-task retry while budget remains, otherwise permanent failure plus
// a blocking cascade to pending dependents.
func (e *Engine) stepFailed(task *Task, step string, cause error) error {
	task.AttemptCount++
	task.LastError = cause.Error()

	if task.AttemptCount < MaxRetries {
		e.logger.Warnw("Task step failed, will retry",
			"execution_id", task.ExecutionID,
			"task_id", task.TaskID,
			"step", step,
			"attempt", task.AttemptCount,
			"max_retries", MaxRetries,
			"error", cause,
		)
		if err := e.setStatus(task, StatusPending); err != nil {
			return err
		}
		return &TaskExecutionError{TaskID: task.TaskID, Step: step, Err: cause}
	}

	if err := e.setStatus(task, StatusFailed); err != nil {
		return err
	}
	e.logger.Errorw("Task failed permanently",
		"execution_id", task.ExecutionID,
		"task_id", task.TaskID,
		"step", step,
		"attempts", task.AttemptCount,
		"error", cause,
	)

	if err := e.blockDependents(task); err != nil {
		return err
	}
	return &TaskExecutionError{TaskID: task.TaskID, Step: step, Err: cause}
}

// blockDependents transitions every pending task that depends on the
// failed task to blocked, so it is never dequeued as runnable.
func (e *Engine) blockDependents(failed *Task) error {
	tasks, err := e.store.ListTasks(failed.ExecutionID)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if t.Status != StatusPending {
			continue
		}
		for _, depID := range t.DependsOn {
			if depID != failed.TaskID {
				continue
			}
			t.LastError = fmt.Sprintf("blocked: dependency %s failed", failed.TaskID)
			if err := e.setStatus(t, StatusBlocked); err != nil {
				return err
			}
			e.logger.Warnw("Task blocked by failed dependency",
				"execution_id", t.ExecutionID,
				"task_id", t.TaskID,
				"failed_dependency", failed.TaskID,
			)
			break
		}
	}
	return nil
}

func (e *Engine) setStatus(task *Task, status Status) error {
	task.Status = status
	if err := e.store.UpdateTask(task); err != nil {
		return err
	}
	e.sink.Publish(event.New(event.KindTask, task.ExecutionID, map[string]string{
		"task_id": task.TaskID,
		"status":  string(status),
	}))
	return nil
}
