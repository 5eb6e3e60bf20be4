package wbs

import (
	"database/sql"
	"time"

	"github.com/SamHATIT/fabrica/errors"
)

// Store handles persistence of WBS tasks.
type Store struct {
	db *sql.DB
}

// NewStore creates a new task store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const taskColumns = `
	execution_id, task_id, name, phase_name, build_phase, assigned_worker,
	status, depends_on, attempt_count, last_error, artifact_refs,
	commit_sha, pr_url, seq, created_at, updated_at`

// CreateTask inserts a task row.
func (s *Store) CreateTask(task *Task) error {
	dependsJSON, err := marshalStrings(task.DependsOn)
	if err != nil {
		return err
	}
	refsJSON, err := marshalStrings(task.ArtifactRefs)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ExecutionID, task.TaskID, task.Name, task.PhaseName, task.BuildPhase,
		task.AssignedWorker, task.Status, dependsJSON, task.AttemptCount,
		task.LastError, refsJSON, task.CommitSHA, task.PRURL, task.Seq,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create task %s", task.TaskID)
	}
	return nil
}

// GetTask retrieves one task.
func (s *Store) GetTask(executionID, taskID string) (*Task, error) {
	row := s.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE execution_id = ? AND task_id = ?`,
		executionID, taskID,
	)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("task %s for execution %s", taskID, executionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task")
	}
	return task, nil
}

// UpdateTask persists a task's mutable fields.
func (s *Store) UpdateTask(task *Task) error {
	task.UpdatedAt = time.Now().UTC()

	dependsJSON, err := marshalStrings(task.DependsOn)
	if err != nil {
		return err
	}
	refsJSON, err := marshalStrings(task.ArtifactRefs)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE tasks
		SET status = ?, depends_on = ?, attempt_count = ?, last_error = ?,
		    artifact_refs = ?, commit_sha = ?, pr_url = ?, updated_at = ?
		WHERE execution_id = ? AND task_id = ?`,
		task.Status, dependsJSON, task.AttemptCount, task.LastError,
		refsJSON, task.CommitSHA, task.PRURL, task.UpdatedAt,
		task.ExecutionID, task.TaskID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update task %s", task.TaskID)
	}
	return nil
}

// ListTasks returns all tasks for an execution in plan order.
func (s *Store) ListTasks(executionID string) ([]*Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks WHERE execution_id = ? ORDER BY seq ASC`,
		executionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ListByPhase returns an execution's tasks for one phase in plan order.
func (s *Store) ListByPhase(executionID, phaseName string) ([]*Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskColumns+` FROM tasks WHERE execution_id = ? AND phase_name = ? ORDER BY seq ASC`,
		executionID, phaseName,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks by phase")
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ExistingTaskIDs returns the set of task IDs already present for an
// execution. Used to make plan loading idempotent.
func (s *Store) ExistingTaskIDs(executionID string) (map[string]bool, error) {
	rows, err := s.db.Query("SELECT task_id FROM tasks WHERE execution_id = ?", executionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query task ids")
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan task id")
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating task ids")
	}
	return ids, nil
}

// MaxSeq returns the highest seq for an execution (0 when no tasks exist).
func (s *Store) MaxSeq(executionID string) (int, error) {
	var seq sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(seq) FROM tasks WHERE execution_id = ?", executionID).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "failed to query max seq")
	}
	if !seq.Valid {
		return 0, nil
	}
	return int(seq.Int64), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var dependsJSON, refsJSON string
	if err := row.Scan(
		&task.ExecutionID, &task.TaskID, &task.Name, &task.PhaseName,
		&task.BuildPhase, &task.AssignedWorker, &task.Status, &dependsJSON,
		&task.AttemptCount, &task.LastError, &refsJSON, &task.CommitSHA,
		&task.PRURL, &task.Seq, &task.CreatedAt, &task.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if task.DependsOn, err = unmarshalStrings(dependsJSON); err != nil {
		return nil, err
	}
	if task.ArtifactRefs, err = unmarshalStrings(refsJSON); err != nil {
		return nil, err
	}
	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating tasks")
	}
	return tasks, nil
}
