package db

import (
	"database/sql"
	"time"

	"github.com/SamHATIT/fabrica/errors"
)

// CleanupOldExecutions deletes terminal executions (deployed, failed,
// cancelled) not touched within the retention window, along with their
// task, gate, phase, artifact, and transition rows. Returns the number of
// executions removed.
func CleanupOldExecutions(conn *sql.DB, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	tx, err := conn.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin cleanup transaction")
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id FROM executions
		WHERE state IN ('deployed', 'failed', 'cancelled')
		  AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to select stale executions")
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "failed to scan execution id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "failed to iterate stale executions")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Children first: the execution rows are referenced by everything else.
	childTables := []string{
		"artifacts", "gates", "phase_progress", "tasks", "state_transitions",
	}
	for _, id := range ids {
		for _, table := range childTables {
			if _, err := tx.Exec("DELETE FROM "+table+" WHERE execution_id = ?", id); err != nil {
				return 0, errors.Wrapf(err, "failed to delete %s rows", table)
			}
		}
		if _, err := tx.Exec("DELETE FROM executions WHERE id = ?", id); err != nil {
			return 0, errors.Wrap(err, "failed to delete execution")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit cleanup")
	}
	return len(ids), nil
}
