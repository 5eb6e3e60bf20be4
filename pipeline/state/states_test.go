package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTableCoverage(t *testing.T) {
	states := AllStates()
	require.NotEmpty(t, states)

	// Every transition target is itself a valid state: no dangling edges.
	for _, s := range states {
		for _, target := range s.Targets() {
			assert.True(t, target.IsValid(), "state %s has dangling edge to %s", s, target)
		}
	}
}

func TestDeployedIsTerminal(t *testing.T) {
	assert.True(t, StateDeployed.IsTerminal())
	assert.Empty(t, StateDeployed.Targets())

	for _, s := range AllStates() {
		if s == StateDeployed {
			continue
		}
		assert.False(t, s.IsTerminal(), "only deployed may be terminal, got %s", s)
	}
}

func TestFailedAndCancelledFunnelThroughQueued(t *testing.T) {
	assert.Equal(t, []State{StateQueued}, StateFailed.Targets())
	assert.Equal(t, []State{StateQueued}, StateCancelled.Targets())
}

func TestRunningAndWaitingStatesCanFailOrCancel(t *testing.T) {
	candidates := []State{
		StateQueued,
		StateSDSPhase1Running, StateSDSPhase2Running, StateSDSPhase3Running,
		StateSDSPhase4Running, StateSDSPhase5Running,
		StateWaitingBRValidation, StateWaitingArchitectureValidation,
		StateBuildQueued, StateBuildRunning, StateBuildValidating, StateDeploying,
	}
	for _, s := range candidates {
		assert.True(t, s.CanTransitionTo(StateFailed), "%s should reach failed", s)
		assert.True(t, s.CanTransitionTo(StateCancelled), "%s should reach cancelled", s)
	}
}

func TestNoPhaseSkipsOrRegressions(t *testing.T) {
	assert.False(t, StateSDSPhase1Running.CanTransitionTo(StateSDSPhase4Running))
	assert.False(t, StateSDSPhase2Running.CanTransitionTo(StateSDSPhase1Running))
	assert.False(t, StateSDSPhase2Complete.CanTransitionTo(StateSDSPhase1Running))
	assert.False(t, StateDraft.CanTransitionTo(StateDeployed))
}

// happyPath is one full legal run from draft to deployed, taking both
// human checkpoints.
var happyPath = []State{
	StateQueued,
	StateSDSPhase1Running, StateSDSPhase1Complete,
	StateWaitingBRValidation,
	StateSDSPhase2Running, StateSDSPhase2Complete,
	StateSDSPhase3Running, StateSDSPhase3Complete,
	StateSDSPhase4Running, StateSDSPhase4Complete,
	StateWaitingArchitectureValidation,
	StateSDSPhase5Running, StateSDSPhase5Complete,
	StateSDSComplete,
	StateBuildQueued, StateBuildRunning, StateBuildValidating,
	StateBuildComplete, StateDeploying, StateDeployed,
}

func TestHappyPathIsLegal(t *testing.T) {
	current := StateDraft
	for _, next := range happyPath {
		require.True(t, current.CanTransitionTo(next), "%s -> %s should be legal", current, next)
		current = next
	}
}

func TestPhaseNumberMonotonicOnHappyPath(t *testing.T) {
	current := StateDraft
	last := current.PhaseNumber()
	for _, next := range happyPath {
		n := next.PhaseNumber()
		assert.GreaterOrEqual(t, n, last, "phase ordinal decreased at %s", next)
		last = n
		current = next
	}
	assert.Equal(t, 7, StateDeployed.PhaseNumber())
}

func TestPhaseNumberOfWaitingStates(t *testing.T) {
	assert.Equal(t, 1, StateWaitingBRValidation.PhaseNumber())
	assert.Equal(t, 4, StateWaitingArchitectureValidation.PhaseNumber())
	assert.Equal(t, 0, StateDraft.PhaseNumber())
	assert.Equal(t, 5, StateSDSComplete.PhaseNumber())
}

func TestLegacyProjection(t *testing.T) {
	assert.Equal(t, LegacyPending, StateDraft.Legacy())
	assert.Equal(t, LegacyPending, StateQueued.Legacy())
	assert.Equal(t, LegacyPending, StateBuildQueued.Legacy())
	assert.Equal(t, LegacyRunning, StateSDSPhase3Running.Legacy())
	assert.Equal(t, LegacyRunning, StateDeploying.Legacy())
	assert.Equal(t, LegacyWaitingBRValidation, StateWaitingBRValidation.Legacy())
	assert.Equal(t, LegacyCompleted, StateDeployed.Legacy())
	assert.Equal(t, LegacyFailed, StateFailed.Legacy())
	assert.Equal(t, LegacyCancelled, StateCancelled.Legacy())
}
