package batch

import (
	"sort"
	"strings"
	"sync"
)

// ContextRegistry accumulates generation output summaries keyed by phase
// number, so later phases and sub-batches can reference concrete earlier
// outputs (object names, class signatures) without re-deriving them.
//
// One execution is driven by a single flow of control, but the registry
// is safe for concurrent reads from status surfaces.
type ContextRegistry struct {
	mu      sync.RWMutex
	entries map[int][]string
}

// NewContextRegistry creates an empty registry.
func NewContextRegistry() *ContextRegistry {
	return &ContextRegistry{entries: make(map[int][]string)}
}

// Add appends a summary under the given phase number.
func (r *ContextRegistry) Add(phaseNumber int, summary string) {
	if summary == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[phaseNumber] = append(r.entries[phaseNumber], summary)
}

// Accumulated returns every summary recorded up to and including the
// given phase number, in phase order, joined into one context block.
func (r *ContextRegistry) Accumulated(throughPhase int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	phases := make([]int, 0, len(r.entries))
	for n := range r.entries {
		if n <= throughPhase {
			phases = append(phases, n)
		}
	}
	sort.Ints(phases)

	var parts []string
	for _, n := range phases {
		parts = append(parts, r.entries[n]...)
	}
	return strings.Join(parts, "\n\n")
}
