package db

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedExecution(t *testing.T, conn *sql.DB, id, state string, updatedAt time.Time) {
	t.Helper()
	_, err := conn.Exec(`
		INSERT INTO executions (id, project, state, state_updated_at, created_at, updated_at)
		VALUES (?, 'demo', ?, ?, ?, ?)
	`, id, state, updatedAt, updatedAt, updatedAt)
	require.NoError(t, err)
	_, err = conn.Exec(`
		INSERT INTO tasks (execution_id, task_id, name, phase_name, seq, created_at, updated_at)
		VALUES (?, 'T-001', 'Account object', 'data-model', 1, ?, ?)
	`, id, updatedAt, updatedAt)
	require.NoError(t, err)
	_, err = conn.Exec(`
		INSERT INTO state_transitions (execution_id, from_state, to_state, at)
		VALUES (?, 'draft', 'queued', ?)
	`, id, updatedAt)
	require.NoError(t, err)
}

func countRows(t *testing.T, conn *sql.DB, table, executionID string) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(
		"SELECT COUNT(*) FROM "+table+" WHERE execution_id = ?", executionID).Scan(&n))
	return n
}

func TestCleanupOldExecutions(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, Migrate(conn, nil))

	old := time.Now().UTC().Add(-48 * time.Hour)
	seedExecution(t, conn, "exec-old-deployed", "deployed", old)
	seedExecution(t, conn, "exec-old-failed", "failed", old)
	seedExecution(t, conn, "exec-old-running", "build_running", old)
	seedExecution(t, conn, "exec-fresh-deployed", "deployed", time.Now().UTC())

	removed, err := CleanupOldExecutions(conn, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// Terminal and stale: gone, children included.
	for _, id := range []string{"exec-old-deployed", "exec-old-failed"} {
		var n int
		require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM executions WHERE id = ?", id).Scan(&n))
		assert.Zero(t, n, "execution %s should be deleted", id)
		assert.Zero(t, countRows(t, conn, "tasks", id))
		assert.Zero(t, countRows(t, conn, "state_transitions", id))
	}

	// In-flight executions survive regardless of age; fresh terminal ones too.
	for _, id := range []string{"exec-old-running", "exec-fresh-deployed"} {
		var n int
		require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM executions WHERE id = ?", id).Scan(&n))
		assert.Equal(t, 1, n, "execution %s should survive", id)
		assert.Equal(t, 1, countRows(t, conn, "tasks", id))
	}
}

func TestCleanupNothingToDo(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, Migrate(conn, nil))

	removed, err := CleanupOldExecutions(conn, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
