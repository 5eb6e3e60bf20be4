package gate

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/pipeline/artifact"
)

// Layer owns gate lifecycle for executions: initialization, artifact
// counting, submission, and sign-off. It decouples "artifacts exist" from
// "pipeline may proceed".
type Layer struct {
	store     *Store
	artifacts *artifact.Store
	logger    *zap.SugaredLogger
}

// NewLayer creates a gate layer over the given database.
func NewLayer(db *sql.DB, logger *zap.SugaredLogger) *Layer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Layer{
		store:     NewStore(db),
		artifacts: artifact.NewStore(db),
		logger:    logger,
	}
}

// Store exposes the underlying gate store for read paths.
func (l *Layer) Store() *Store {
	return l.store
}

// InitializeGates creates the fixed, ordered gate set for a new execution.
// A second call for the same execution fails with AlreadyInitialized.
func (l *Layer) InitializeGates(executionID string) ([]*Gate, error) {
	count, err := l.store.CountGates(executionID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.Wrapf(errors.ErrAlreadyInitialized, "gates for execution %s", executionID)
	}

	now := time.Now().UTC()
	gates := make([]*Gate, 0, len(Definitions))
	for _, def := range Definitions {
		g := &Gate{
			ExecutionID:   executionID,
			Number:        def.Number,
			Name:          def.Name,
			RequiredTypes: def.RequiredTypes,
			Status:        StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := l.store.CreateGate(g); err != nil {
			return nil, err
		}
		gates = append(gates, g)
	}

	l.logger.Infow("Gates initialized", "execution_id", executionID, "gates", len(gates))
	return gates, nil
}

// UpdateArtifactCount recomputes the gate's artifact count from the
// artifact records and promotes pending -> ready once every required type
// has at least one record. A rejected gate whose producing phase has re-run
// is promoted back to ready the same way.
func (l *Layer) UpdateArtifactCount(executionID string, gateNumber int) (*Gate, error) {
	g, err := l.store.GetGate(executionID, gateNumber)
	if err != nil {
		return nil, err
	}

	total := 0
	satisfied := true
	for _, t := range g.RequiredTypes {
		count, err := l.artifacts.CountByType(executionID, t)
		if err != nil {
			return nil, err
		}
		total += count
		if count == 0 {
			satisfied = false
		}
	}
	g.ArtifactsCount = total

	if satisfied && (g.Status == StatusPending || g.Status == StatusRejected) {
		g.Status = StatusReady
		g.RejectionReason = ""
		l.logger.Infow("Gate ready",
			"execution_id", executionID,
			"gate", g.Name,
			"artifacts", total,
		)
	}

	if err := l.store.UpdateGate(g); err != nil {
		return nil, err
	}
	return g, nil
}

// SubmitForReview moves a ready gate to in_review for external sign-off.
func (l *Layer) SubmitForReview(executionID string, gateNumber int) (*Gate, error) {
	g, err := l.store.GetGate(executionID, gateNumber)
	if err != nil {
		return nil, err
	}

	if g.Status != StatusReady {
		return nil, errors.Wrapf(errors.ErrGateTransition,
			"cannot submit gate %d from %s (want ready)", gateNumber, g.Status)
	}

	g.Status = StatusInReview
	if err := l.store.UpdateGate(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Approve signs off a gate. Legal from ready or in_review; approval is
// terminal for the gate within this execution.
func (l *Layer) Approve(executionID string, gateNumber int) (*Gate, error) {
	g, err := l.store.GetGate(executionID, gateNumber)
	if err != nil {
		return nil, err
	}

	if g.Status != StatusReady && g.Status != StatusInReview {
		return nil, errors.Wrapf(errors.ErrGateTransition,
			"cannot approve gate %d from %s", gateNumber, g.Status)
	}

	g.Status = StatusApproved
	if err := l.store.UpdateGate(g); err != nil {
		return nil, err
	}

	l.logger.Infow("Gate approved", "execution_id", executionID, "gate", g.Name)
	return g, nil
}

// Reject refuses sign-off with a reason, returning control to the
// producing phase. Legal from ready or in_review; the reason is required.
func (l *Layer) Reject(executionID string, gateNumber int, reason string) (*Gate, error) {
	if reason == "" {
		return nil, errors.Wrap(errors.ErrGateTransition, "rejection requires a reason")
	}

	g, err := l.store.GetGate(executionID, gateNumber)
	if err != nil {
		return nil, err
	}

	if g.Status != StatusReady && g.Status != StatusInReview {
		return nil, errors.Wrapf(errors.ErrGateTransition,
			"cannot reject gate %d from %s", gateNumber, g.Status)
	}

	g.Status = StatusRejected
	g.RejectionReason = reason
	if err := l.store.UpdateGate(g); err != nil {
		return nil, err
	}

	l.logger.Warnw("Gate rejected",
		"execution_id", executionID,
		"gate", g.Name,
		"reason", reason,
	)
	return g, nil
}

// IsApproved reports whether the gate has been signed off.
func (l *Layer) IsApproved(executionID string, gateNumber int) (bool, error) {
	g, err := l.store.GetGate(executionID, gateNumber)
	if err != nil {
		return false, err
	}
	return g.Status == StatusApproved, nil
}
