// Package artifact persists typed records of generated work products.
// Gates count these records to decide readiness; the records carry
// references, not content, so large outputs live on disk or in version
// control.
package artifact

import (
	"database/sql"
	"time"

	"github.com/SamHATIT/fabrica/errors"
)

// Type categorizes pipeline work products.
type Type string

const (
	TypeBusinessRequirement  Type = "business_requirement"
	TypeUseCase              Type = "use_case"
	TypeDataModel            Type = "data_model"
	TypeSolutionArchitecture Type = "solution_architecture"
	TypeTechnicalDesign      Type = "technical_design"
	TypeWBSPlan              Type = "wbs_plan"
	TypeGeneratedFile        Type = "generated_file"
	TypeTestOutput           Type = "test_output"
)

// Artifact is one typed work-product record.
type Artifact struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Type        Type      `json:"type"`
	Name        string    `json:"name"`
	Path        string    `json:"path,omitempty"`
	ContentRef  string    `json:"content_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store handles persistence of artifact records.
type Store struct {
	db *sql.DB
}

// NewStore creates a new artifact store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts an artifact row and returns it with its assigned ID.
func (s *Store) Record(a *Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.Exec(
		"INSERT INTO artifacts (execution_id, type, name, path, content_ref, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		a.ExecutionID, a.Type, a.Name, a.Path, a.ContentRef, a.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record artifact")
	}

	a.ID, err = result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get artifact id")
	}
	return nil
}

// CountByType returns how many artifacts of the given type exist for an
// execution.
func (s *Store) CountByType(executionID string, t Type) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM artifacts WHERE execution_id = ? AND type = ?",
		executionID, t,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count artifacts")
	}
	return count, nil
}

// ListByExecution returns all artifact records for an execution, oldest first.
func (s *Store) ListByExecution(executionID string) ([]*Artifact, error) {
	rows, err := s.db.Query(
		"SELECT id, execution_id, type, name, path, content_ref, created_at FROM artifacts WHERE execution_id = ? ORDER BY id ASC",
		executionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list artifacts")
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.ExecutionID, &a.Type, &a.Name, &a.Path, &a.ContentRef, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan artifact")
		}
		artifacts = append(artifacts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating artifacts")
	}
	return artifacts, nil
}
