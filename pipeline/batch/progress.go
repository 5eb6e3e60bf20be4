// Package batch executes BUILD phases one at a time, in a fixed order,
// splitting each phase's tasks into sub-batches, aggregating their
// generated output, and driving review, version control, and deployment
// for the phase as a unit.
package batch

import (
	"database/sql"
	"time"

	"github.com/SamHATIT/fabrica/errors"
)

// ProgressStatus tracks a phase's lifecycle within one execution.
type ProgressStatus string

const (
	ProgressPending   ProgressStatus = "pending"
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
)

// PhaseProgress is one phase's persisted status row for an execution.
type PhaseProgress struct {
	ExecutionID  string         `json:"execution_id"`
	PhaseNumber  int            `json:"phase_number"`
	PhaseName    string         `json:"phase_name"`
	Status       ProgressStatus `json:"status"`
	AgentID      string         `json:"agent_id,omitempty"`
	AttemptCount int            `json:"attempt_count"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
}

// ProgressStore persists per-phase status rows.
type ProgressStore struct {
	db *sql.DB
}

// NewProgressStore creates a progress store over the given database.
func NewProgressStore(db *sql.DB) *ProgressStore {
	return &ProgressStore{db: db}
}

// Upsert writes the row for (execution, phase_number), replacing any
// previous status for that phase.
func (s *ProgressStore) Upsert(p *PhaseProgress) error {
	_, err := s.db.Exec(`
		INSERT INTO phase_progress
			(execution_id, phase_number, phase_name, status, agent_id,
			 attempt_count, started_at, completed_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id, phase_number) DO UPDATE SET
			phase_name = excluded.phase_name,
			status = excluded.status,
			agent_id = excluded.agent_id,
			attempt_count = excluded.attempt_count,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			last_error = excluded.last_error
	`, p.ExecutionID, p.PhaseNumber, p.PhaseName, p.Status, p.AgentID,
		p.AttemptCount, p.StartedAt, p.CompletedAt, p.LastError)
	if err != nil {
		return errors.Wrap(err, "failed to upsert phase progress")
	}
	return nil
}

// Get returns the row for (execution, phase_number).
func (s *ProgressStore) Get(executionID string, phaseNumber int) (*PhaseProgress, error) {
	row := s.db.QueryRow(`
		SELECT execution_id, phase_number, phase_name, status, agent_id,
		       attempt_count, started_at, completed_at, last_error
		FROM phase_progress
		WHERE execution_id = ? AND phase_number = ?
	`, executionID, phaseNumber)

	p, err := scanProgress(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("phase progress %s/%d", executionID, phaseNumber)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get phase progress")
	}
	return p, nil
}

// List returns all phase rows for an execution in phase order.
func (s *ProgressStore) List(executionID string) ([]*PhaseProgress, error) {
	rows, err := s.db.Query(`
		SELECT execution_id, phase_number, phase_name, status, agent_id,
		       attempt_count, started_at, completed_at, last_error
		FROM phase_progress
		WHERE execution_id = ?
		ORDER BY phase_number
	`, executionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list phase progress")
	}
	defer rows.Close()

	var result []*PhaseProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan phase progress")
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (*PhaseProgress, error) {
	var p PhaseProgress
	err := row.Scan(&p.ExecutionID, &p.PhaseNumber, &p.PhaseName, &p.Status,
		&p.AgentID, &p.AttemptCount, &p.StartedAt, &p.CompletedAt, &p.LastError)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
