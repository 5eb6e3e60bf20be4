package state

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SamHATIT/fabrica/errors"
)

// InvalidTransitionError reports an attempted state change not present in
// the transition table, carrying both sides for diagnosis. It wraps
// errors.ErrInvalidTransition so callers can match with errors.Is.
type InvalidTransitionError struct {
	Current State
	Target  State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %q to %q", e.Current, e.Target)
}

func (e *InvalidTransitionError) Unwrap() error {
	return errors.ErrInvalidTransition
}

// Machine is the transition authority for executions. All state mutations
// go through TransitionTo; there is no other mutation path.
type Machine struct {
	db     *sql.DB
	store  *Store
	logger *zap.SugaredLogger
}

// NewMachine creates a state machine over the given database.
func NewMachine(db *sql.DB, logger *zap.SugaredLogger) *Machine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Machine{db: db, store: NewStore(db), logger: logger}
}

// Store exposes the underlying execution store for read paths.
func (m *Machine) Store() *Store {
	return m.store
}

// CurrentState returns the execution's state, or NotFound.
func (m *Machine) CurrentState(executionID string) (State, error) {
	exec, err := m.store.GetExecution(executionID)
	if err != nil {
		return "", err
	}
	return exec.State, nil
}

// CanTransitionTo reports whether the execution may move to target.
// Pure lookup; never mutates.
func (m *Machine) CanTransitionTo(executionID string, target State) (bool, error) {
	current, err := m.CurrentState(executionID)
	if err != nil {
		return false, err
	}
	return current.CanTransitionTo(target), nil
}

// CurrentPhaseNumber maps the execution's state to its coarse phase ordinal.
func (m *Machine) CurrentPhaseNumber(executionID string) (int, error) {
	current, err := m.CurrentState(executionID)
	if err != nil {
		return 0, err
	}
	return current.PhaseNumber(), nil
}

// TransitionTo moves the execution to target, appends a transition record,
// and recomputes the legacy status, all in one transaction.
//
// The UPDATE carries a WHERE state = <current> guard, so of two concurrent
// callers racing from the same source state exactly one succeeds; the other
// observes zero affected rows and fails. This is the read-check-write
// atomicity the scheduling model requires.
func (m *Machine) TransitionTo(executionID string, target State, metadata map[string]string) (State, error) {
	if !target.IsValid() {
		return "", &InvalidTransitionError{Current: "", Target: target}
	}

	tx, err := m.db.Begin()
	if err != nil {
		return "", errors.Wrap(err, "failed to begin transition")
	}
	defer tx.Rollback()

	var current State
	err = tx.QueryRow("SELECT state FROM executions WHERE id = ?", executionID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.NewNotFoundError("execution %s", executionID)
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read current state")
	}

	if !current.CanTransitionTo(target) {
		return "", &InvalidTransitionError{Current: current, Target: target}
	}

	now := time.Now().UTC()
	result, err := tx.Exec(`
		UPDATE executions
		SET state = ?, legacy_status = ?, state_updated_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		target, target.Legacy(), now, now, executionID, current,
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to update execution state")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return "", errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		// Lost the race against a concurrent transition from the same state
		return "", errors.Wrapf(errors.ErrInvalidTransition,
			"concurrent transition detected for execution %s (from %s)", executionID, current)
	}

	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal transition metadata")
	}
	if _, err := tx.Exec(
		"INSERT INTO state_transitions (execution_id, from_state, to_state, metadata, at) VALUES (?, ?, ?, ?, ?)",
		executionID, current, target, metadataJSON, now,
	); err != nil {
		return "", errors.Wrap(err, "failed to append transition record")
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "failed to commit transition")
	}

	m.logger.Infow("Execution state transition",
		"execution_id", executionID,
		"from", current,
		"to", target,
		"phase", target.PhaseNumber(),
	)

	return target, nil
}
