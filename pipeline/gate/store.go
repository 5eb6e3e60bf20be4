package gate

import (
	"database/sql"
	"time"

	"github.com/SamHATIT/fabrica/errors"
)

// Store handles persistence of gate rows.
type Store struct {
	db *sql.DB
}

// NewStore creates a new gate store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateGate inserts a gate row.
func (s *Store) CreateGate(g *Gate) error {
	typesJSON, err := marshalTypes(g.RequiredTypes)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO gates (
			execution_id, gate_number, name, required_types,
			artifacts_count, status, rejection_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ExecutionID, g.Number, g.Name, typesJSON,
		g.ArtifactsCount, g.Status, g.RejectionReason, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create gate")
	}
	return nil
}

// GetGate retrieves one gate by execution and number.
func (s *Store) GetGate(executionID string, number int) (*Gate, error) {
	row := s.db.QueryRow(`
		SELECT execution_id, gate_number, name, required_types,
		       artifacts_count, status, rejection_reason, created_at, updated_at
		FROM gates WHERE execution_id = ? AND gate_number = ?`,
		executionID, number,
	)

	g, err := scanGate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("gate %d for execution %s", number, executionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get gate")
	}
	return g, nil
}

// ListGates returns all gates for an execution in gate order.
func (s *Store) ListGates(executionID string) ([]*Gate, error) {
	rows, err := s.db.Query(`
		SELECT execution_id, gate_number, name, required_types,
		       artifacts_count, status, rejection_reason, created_at, updated_at
		FROM gates WHERE execution_id = ? ORDER BY gate_number ASC`,
		executionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list gates")
	}
	defer rows.Close()

	var gates []*Gate
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan gate")
		}
		gates = append(gates, g)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating gates")
	}
	return gates, nil
}

// UpdateGate persists a gate's mutable fields.
func (s *Store) UpdateGate(g *Gate) error {
	g.UpdatedAt = time.Now().UTC()

	_, err := s.db.Exec(`
		UPDATE gates
		SET artifacts_count = ?, status = ?, rejection_reason = ?, updated_at = ?
		WHERE execution_id = ? AND gate_number = ?`,
		g.ArtifactsCount, g.Status, g.RejectionReason, g.UpdatedAt,
		g.ExecutionID, g.Number,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update gate")
	}
	return nil
}

// CountGates returns how many gates exist for an execution.
func (s *Store) CountGates(executionID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM gates WHERE execution_id = ?", executionID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count gates")
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGate(row rowScanner) (*Gate, error) {
	var g Gate
	var typesJSON string
	if err := row.Scan(
		&g.ExecutionID, &g.Number, &g.Name, &typesJSON,
		&g.ArtifactsCount, &g.Status, &g.RejectionReason, &g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		return nil, err
	}

	types, err := unmarshalTypes(typesJSON)
	if err != nil {
		return nil, err
	}
	g.RequiredTypes = types
	return &g, nil
}
