// Package state implements the execution state machine: the sole authority
// over an execution's state field. Every transition is checked against a
// fixed table and appended to an immutable transition log.
package state

// State is an execution pipeline state.
type State string

const (
	StateDraft  State = "draft"
	StateQueued State = "queued"

	// SDS sub-phases, strictly ordered 1..5, each with a running/complete pair
	StateSDSPhase1Running  State = "sds_phase1_running"
	StateSDSPhase1Complete State = "sds_phase1_complete"
	StateSDSPhase2Running  State = "sds_phase2_running"
	StateSDSPhase2Complete State = "sds_phase2_complete"
	StateSDSPhase3Running  State = "sds_phase3_running"
	StateSDSPhase3Complete State = "sds_phase3_complete"
	StateSDSPhase4Running  State = "sds_phase4_running"
	StateSDSPhase4Complete State = "sds_phase4_complete"
	StateSDSPhase5Running  State = "sds_phase5_running"
	StateSDSPhase5Complete State = "sds_phase5_complete"

	// Human checkpoints interleaved with the SDS sub-phases
	StateWaitingBRValidation           State = "waiting_br_validation"
	StateWaitingArchitectureValidation State = "waiting_architecture_validation"

	StateSDSComplete State = "sds_complete"

	// BUILD macro-stage
	StateBuildQueued     State = "build_queued"
	StateBuildRunning    State = "build_running"
	StateBuildValidating State = "build_validating"
	StateBuildComplete   State = "build_complete"
	StateDeploying       State = "deploying"
	StateDeployed        State = "deployed" // terminal

	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// LegacyStatus is the coarse projection of State kept for consumers that
// only need pending/running/waiting/terminal granularity.
type LegacyStatus string

const (
	LegacyPending               LegacyStatus = "pending"
	LegacyRunning               LegacyStatus = "running"
	LegacyWaitingBRValidation   LegacyStatus = "waiting_br_validation"
	LegacyWaitingArchValidation LegacyStatus = "waiting_architecture_validation"
	LegacyCompleted             LegacyStatus = "completed"
	LegacyFailed                LegacyStatus = "failed"
	LegacyCancelled             LegacyStatus = "cancelled"
)

// transitions is the single source of truth for what can happen next.
// A state absent from a target set cannot be reached from that state,
// which rules out silent skips and silent regressions alike.
var transitions = map[State][]State{
	StateDraft:  {StateQueued},
	StateQueued: {StateSDSPhase1Running, StateFailed, StateCancelled},

	StateSDSPhase1Running:    {StateSDSPhase1Complete, StateFailed, StateCancelled},
	StateSDSPhase1Complete:   {StateWaitingBRValidation, StateSDSPhase2Running, StateFailed, StateCancelled},
	StateWaitingBRValidation: {StateSDSPhase2Running, StateFailed, StateCancelled},

	StateSDSPhase2Running:              {StateSDSPhase2Complete, StateFailed, StateCancelled},
	StateSDSPhase2Complete:             {StateSDSPhase3Running, StateFailed, StateCancelled},
	StateSDSPhase3Running:              {StateSDSPhase3Complete, StateFailed, StateCancelled},
	StateSDSPhase3Complete:             {StateSDSPhase4Running, StateFailed, StateCancelled},
	StateSDSPhase4Running:              {StateSDSPhase4Complete, StateFailed, StateCancelled},
	StateSDSPhase4Complete:             {StateWaitingArchitectureValidation, StateSDSPhase5Running, StateFailed, StateCancelled},
	StateWaitingArchitectureValidation: {StateSDSPhase5Running, StateFailed, StateCancelled},

	StateSDSPhase5Running:  {StateSDSPhase5Complete, StateFailed, StateCancelled},
	StateSDSPhase5Complete: {StateSDSComplete, StateFailed, StateCancelled},
	StateSDSComplete:       {StateBuildQueued, StateFailed, StateCancelled},

	StateBuildQueued:     {StateBuildRunning, StateFailed, StateCancelled},
	StateBuildRunning:    {StateBuildValidating, StateFailed, StateCancelled},
	StateBuildValidating: {StateBuildComplete, StateFailed, StateCancelled},
	StateBuildComplete:   {StateDeploying, StateFailed, StateCancelled},
	StateDeploying:       {StateDeployed, StateFailed, StateCancelled},

	// Terminal: no outgoing edges
	StateDeployed: {},

	// Retry and restart both funnel back through queued so failure handling
	// never needs special-casing outside the table.
	StateFailed:    {StateQueued},
	StateCancelled: {StateQueued},
}

// AllStates returns every state in the transition table.
func AllStates() []State {
	states := make([]State, 0, len(transitions))
	for s := range transitions {
		states = append(states, s)
	}
	return states
}

// IsValid reports whether s appears in the transition table.
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo is a pure lookup against the transition table.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Targets returns the allowed-targets set for s.
func (s State) Targets() []State {
	return transitions[s]
}

// IsTerminal reports whether s has no outgoing edges.
func (s State) IsTerminal() bool {
	targets, ok := transitions[s]
	return ok && len(targets) == 0
}

// phaseOrdinals maps fine-grained states to a coarse phase number.
// Waiting states are attributed to the phase they follow.
var phaseOrdinals = map[State]int{
	StateDraft:  0,
	StateQueued: 0,

	StateSDSPhase1Running:              1,
	StateSDSPhase1Complete:             1,
	StateWaitingBRValidation:           1,
	StateSDSPhase2Running:              2,
	StateSDSPhase2Complete:             2,
	StateSDSPhase3Running:              3,
	StateSDSPhase3Complete:             3,
	StateSDSPhase4Running:              4,
	StateSDSPhase4Complete:             4,
	StateWaitingArchitectureValidation: 4,
	StateSDSPhase5Running:              5,
	StateSDSPhase5Complete:             5,
	StateSDSComplete:                   5,

	StateBuildQueued:     6,
	StateBuildRunning:    6,
	StateBuildValidating: 6,
	StateBuildComplete:   6,
	StateDeploying:       7,
	StateDeployed:        7,

	StateFailed:    0,
	StateCancelled: 0,
}

// PhaseNumber returns the coarse phase ordinal for s. Pure derived
// mapping, no side effects.
func (s State) PhaseNumber() int {
	return phaseOrdinals[s]
}

// Legacy returns the coarse status projection for s.
func (s State) Legacy() LegacyStatus {
	switch s {
	case StateDraft, StateQueued, StateBuildQueued:
		return LegacyPending
	case StateWaitingBRValidation:
		return LegacyWaitingBRValidation
	case StateWaitingArchitectureValidation:
		return LegacyWaitingArchValidation
	case StateDeployed:
		return LegacyCompleted
	case StateFailed:
		return LegacyFailed
	case StateCancelled:
		return LegacyCancelled
	default:
		return LegacyRunning
	}
}
