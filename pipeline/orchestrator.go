// Package pipeline wires the execution state machine, validation gates,
// task engine, and phase batch executor into one driver. Each execution
// is driven by a single logical flow of control; multiple executions may
// run fully in parallel, sharing nothing but the database.
package pipeline

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/pipeline/artifact"
	"github.com/SamHATIT/fabrica/pipeline/batch"
	"github.com/SamHATIT/fabrica/pipeline/event"
	"github.com/SamHATIT/fabrica/pipeline/gate"
	"github.com/SamHATIT/fabrica/pipeline/state"
	"github.com/SamHATIT/fabrica/pipeline/wbs"
	"github.com/SamHATIT/fabrica/worker"
)

// gateGuards maps states that may only be entered once a validation gate
// has been approved. Exiting a human-checkpoint state and starting the
// build are both gated.
var gateGuards = map[state.State]int{
	state.StateSDSPhase2Running: 1,
	state.StateSDSPhase5Running: 2,
	state.StateBuildQueued:      3,
}

// Options tunes the orchestrator beyond its worker adapters.
type Options struct {
	Timeouts   wbs.Timeouts
	BaseBranch string
}

// Orchestrator owns one database's executions end to end.
type Orchestrator struct {
	machine   *state.Machine
	gates     *gate.Layer
	engine    *wbs.Engine
	executor  *batch.Executor
	artifacts *artifact.Store
	sink      event.Sink
	logger    *zap.SugaredLogger
}

// New builds an orchestrator over the given database and worker adapters.
func New(
	db *sql.DB,
	generator worker.Generator,
	reviewer worker.Reviewer,
	deployer worker.Deployer,
	vc worker.VersionControl,
	opts Options,
	sink event.Sink,
	logger *zap.SugaredLogger,
) *Orchestrator {
	if opts.Timeouts == (wbs.Timeouts{}) {
		opts.Timeouts = wbs.DefaultTimeouts()
	}
	if sink == nil {
		sink = event.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		machine:   state.NewMachine(db, logger),
		gates:     gate.NewLayer(db, logger),
		engine:    wbs.NewEngine(db, generator, reviewer, deployer, vc, opts.Timeouts, sink, logger),
		executor:  batch.NewExecutor(db, generator, reviewer, deployer, vc, opts.Timeouts, opts.BaseBranch, sink, logger),
		artifacts: artifact.NewStore(db),
		sink:      sink,
		logger:    logger,
	}
}

// Machine exposes the state machine for read paths and tests.
func (o *Orchestrator) Machine() *state.Machine { return o.machine }

// Gates exposes the validation gate layer.
func (o *Orchestrator) Gates() *gate.Layer { return o.gates }

// Engine exposes the task engine.
func (o *Orchestrator) Engine() *wbs.Engine { return o.engine }

// Executor exposes the phase batch executor.
func (o *Orchestrator) Executor() *batch.Executor { return o.executor }

// Artifacts exposes the artifact record store.
func (o *Orchestrator) Artifacts() *artifact.Store { return o.artifacts }

// CreateExecution registers a new execution in draft with its fixed gate
// set initialized.
func (o *Orchestrator) CreateExecution(project string) (*state.Execution, error) {
	exec := state.NewExecution(project)
	if err := o.machine.Store().CreateExecution(exec); err != nil {
		return nil, err
	}
	if _, err := o.gates.InitializeGates(exec.ID); err != nil {
		return nil, err
	}
	o.logger.Infow("Execution created", "execution_id", exec.ID, "project", project)
	return exec, nil
}

// Advance performs one gate-guarded state transition. Transition-table
// legality is the machine's job; this layer additionally refuses to enter
// a gated state until its validation gate is approved.
func (o *Orchestrator) Advance(executionID string, target state.State, metadata map[string]string) (state.State, error) {
	if gateNumber, gated := gateGuards[target]; gated {
		approved, err := o.gates.IsApproved(executionID, gateNumber)
		if err != nil {
			return "", err
		}
		if !approved {
			return "", errors.Wrapf(errors.ErrGateTransition,
				"gate %d must be approved before entering %s", gateNumber, target)
		}
	}

	newState, err := o.machine.TransitionTo(executionID, target, metadata)
	if err != nil {
		return "", err
	}
	o.sink.Publish(event.New(event.KindState, executionID, map[string]string{
		"state": string(newState),
	}))
	return newState, nil
}

// Pause sets the cooperative pause flag. In-flight work finishes its
// current step and stops at the next suspension point.
func (o *Orchestrator) Pause(executionID string) error {
	return o.machine.Store().SetPaused(executionID, true)
}

// Resume clears the pause flag.
func (o *Orchestrator) Resume(executionID string) error {
	return o.machine.Store().SetPaused(executionID, false)
}

// Cancel transitions the execution to cancelled. It is a state change,
// not a forced interrupt.
func (o *Orchestrator) Cancel(executionID string) error {
	_, err := o.Advance(executionID, state.StateCancelled, nil)
	return err
}

// Requeue retries a failed execution or restarts a cancelled one. The
// same execution, task, and gate rows are reused; nothing is recreated.
func (o *Orchestrator) Requeue(executionID string) error {
	_, err := o.Advance(executionID, state.StateQueued, nil)
	return err
}

// LoadPlan loads a work-breakdown plan's tasks for an execution.
func (o *Orchestrator) LoadPlan(plan *wbs.Plan) ([]*wbs.Task, error) {
	return o.engine.LoadPlan(plan)
}

// RunBuild drives an execution from sds_complete (or a build state it was
// left in) through every BUILD phase to deployed. A phase failure
// transitions the execution to failed and returns the phase error; a
// pause leaves the execution in its current build state for a later
// resume.
func (o *Orchestrator) RunBuild(ctx context.Context, executionID string) error {
	current, err := o.machine.CurrentState(executionID)
	if err != nil {
		return err
	}

	if current == state.StateSDSComplete {
		if current, err = o.Advance(executionID, state.StateBuildQueued, nil); err != nil {
			return err
		}
	}
	if current == state.StateBuildQueued {
		if current, err = o.Advance(executionID, state.StateBuildRunning, nil); err != nil {
			return err
		}
	}
	if current != state.StateBuildRunning && current != state.StateBuildValidating {
		return errors.Newf("cannot run build from state %s", current)
	}

	// A build paused during final packaging resumes at build_validating
	// and skips straight to the packaging step.
	if current == state.StateBuildRunning {
		for _, phaseName := range wbs.BuildPhases {
			if err := o.executor.ExecutePhase(ctx, executionID, phaseName); err != nil {
				return o.buildStopped(executionID, phaseName, err)
			}
		}
		if _, err := o.Advance(executionID, state.StateBuildValidating, nil); err != nil {
			return err
		}
	}
	if err := o.executor.FinalPackaging(ctx, executionID); err != nil {
		return o.buildStopped(executionID, "packaging", err)
	}

	for _, next := range []state.State{state.StateBuildComplete, state.StateDeploying, state.StateDeployed} {
		if _, err := o.Advance(executionID, next, nil); err != nil {
			return err
		}
	}

	o.logger.Infow("Build finished", "execution_id", executionID)
	return nil
}

// buildStopped classifies a build interruption: pauses and cancellations
// leave the execution resumable, everything else transitions it to failed
// with the cause recorded in the transition metadata.
func (o *Orchestrator) buildStopped(executionID, step string, cause error) error {
	if errors.Is(cause, errors.ErrExecutionPaused) {
		o.logger.Infow("Build paused", "execution_id", executionID, "step", step)
		return cause
	}
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		o.logger.Infow("Build cancelled", "execution_id", executionID, "step", step)
		return cause
	}

	if _, err := o.Advance(executionID, state.StateFailed, map[string]string{
		"step":  step,
		"error": cause.Error(),
	}); err != nil {
		o.logger.Errorw("Failed to record build failure",
			"execution_id", executionID, "error", err)
	}
	return cause
}

// ExecutionStatus aggregates everything the persisted-state surface
// exposes for one execution.
type ExecutionStatus struct {
	Execution *state.Execution         `json:"execution"`
	History   []state.TransitionRecord `json:"history"`
	Tasks     []*wbs.Task              `json:"tasks"`
	Gates     []*gate.Gate             `json:"gates"`
	Phases    []*batch.PhaseProgress   `json:"phases"`
}

// Status returns the full inspectable surface of an execution: state,
// transition history, tasks, gates, and per-phase progress.
func (o *Orchestrator) Status(executionID string) (*ExecutionStatus, error) {
	exec, err := o.machine.Store().GetExecution(executionID)
	if err != nil {
		return nil, err
	}
	history, err := o.machine.Store().History(executionID)
	if err != nil {
		return nil, err
	}
	tasks, err := o.engine.Store().ListTasks(executionID)
	if err != nil {
		return nil, err
	}
	gates, err := o.gates.Store().ListGates(executionID)
	if err != nil {
		return nil, err
	}
	phases, err := o.executor.Progress().List(executionID)
	if err != nil {
		return nil, err
	}
	return &ExecutionStatus{
		Execution: exec,
		History:   history,
		Tasks:     tasks,
		Gates:     gates,
		Phases:    phases,
	}, nil
}

// StaleExecutions reports executions stuck in a running state longer than
// the cutoff, typically left behind by a crashed process. They are only
// reported; requeueing stays an explicit operator decision.
func (o *Orchestrator) StaleExecutions(olderThan time.Duration) ([]*state.Execution, error) {
	return o.machine.Store().ListStale(olderThan)
}
