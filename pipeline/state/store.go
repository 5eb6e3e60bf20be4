package state

import (
	"database/sql"
	"time"

	"github.com/SamHATIT/fabrica/errors"
)

// Store handles persistence of executions and their transition log.
type Store struct {
	db *sql.DB
}

// NewStore creates a new execution store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateExecution inserts a new execution row.
func (s *Store) CreateExecution(exec *Execution) error {
	query := `
		INSERT INTO executions (
			id, project, state, legacy_status, paused,
			state_updated_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		exec.ID,
		exec.Project,
		exec.State,
		exec.LegacyStatus,
		exec.Paused,
		exec.StateUpdatedAt,
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}

	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(id string) (*Execution, error) {
	query := `
		SELECT id, project, state, legacy_status, paused,
		       state_updated_at, created_at, updated_at
		FROM executions WHERE id = ?
	`

	var exec Execution
	err := s.db.QueryRow(query, id).Scan(
		&exec.ID,
		&exec.Project,
		&exec.State,
		&exec.LegacyStatus,
		&exec.Paused,
		&exec.StateUpdatedAt,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("execution %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get execution")
	}

	return &exec, nil
}

// SetPaused flips the cooperative pause flag. The flag is observed before
// each task dequeue; in-flight work finishes its current step.
func (s *Store) SetPaused(id string, paused bool) error {
	result, err := s.db.Exec(
		"UPDATE executions SET paused = ?, updated_at = ? WHERE id = ?",
		paused, time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to set paused flag")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("execution %s", id)
	}
	return nil
}

// History returns the execution's transition records in append order.
func (s *Store) History(executionID string) ([]TransitionRecord, error) {
	// Existence check keeps NotFound distinguishable from empty history
	if _, err := s.GetExecution(executionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		"SELECT from_state, to_state, metadata, at FROM state_transitions WHERE execution_id = ? ORDER BY id ASC",
		executionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query state history")
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		var metadata string
		if err := rows.Scan(&rec.From, &rec.To, &metadata, &rec.At); err != nil {
			return nil, errors.Wrap(err, "failed to scan transition record")
		}
		rec.Metadata, err = unmarshalMetadata(metadata)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode transition metadata")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating state history")
	}

	return records, nil
}

// ListByState returns executions currently in the given state, oldest first.
func (s *Store) ListByState(st State, limit int) ([]*Execution, error) {
	rows, err := s.db.Query(`
		SELECT id, project, state, legacy_status, paused,
		       state_updated_at, created_at, updated_at
		FROM executions WHERE state = ? ORDER BY created_at ASC LIMIT ?`,
		st, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// ListStale returns executions sitting in a running state with no
// transition since the cutoff. Used for crash diagnosis after restart;
// transition authority stays with the table, so stale runs are reported,
// not auto-requeued.
func (s *Store) ListStale(olderThan time.Duration) ([]*Execution, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := s.db.Query(`
		SELECT id, project, state, legacy_status, paused,
		       state_updated_at, created_at, updated_at
		FROM executions
		WHERE state LIKE '%_running' AND state_updated_at < ?
		ORDER BY state_updated_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale executions")
	}
	defer rows.Close()

	return scanExecutions(rows)
}

func scanExecutions(rows *sql.Rows) ([]*Execution, error) {
	var execs []*Execution
	for rows.Next() {
		var exec Execution
		if err := rows.Scan(
			&exec.ID,
			&exec.Project,
			&exec.State,
			&exec.LegacyStatus,
			&exec.Paused,
			&exec.StateUpdatedAt,
			&exec.CreatedAt,
			&exec.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		execs = append(execs, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating executions")
	}
	return execs, nil
}
