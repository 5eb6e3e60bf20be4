package batch

import "github.com/SamHATIT/fabrica/pipeline/wbs"

// SubBatchRule splits a phase's tasks into ordered sub-batches. Smaller
// sub-batches bound each generation call's context and let a failure be
// retried at sub-batch granularity instead of whole-phase granularity.
type SubBatchRule func(tasks []*wbs.Task) [][]*wbs.Task

// singletonRule puts each task in its own sub-batch.
func singletonRule(tasks []*wbs.Task) [][]*wbs.Task {
	batches := make([][]*wbs.Task, 0, len(tasks))
	for _, t := range tasks {
		batches = append(batches, []*wbs.Task{t})
	}
	return batches
}

// clusterRule groups a root task together with the phase tasks that
// directly depend on it (an object plus its fields, a class plus its test
// class, an automation plus its dependency set). Tasks whose in-phase
// dependencies live in another cluster root start their own cluster.
func clusterRule(tasks []*wbs.Task) [][]*wbs.Task {
	inPhase := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		inPhase[t.TaskID] = true
	}

	assigned := make(map[string]bool, len(tasks))
	var batches [][]*wbs.Task
	for _, root := range tasks {
		if assigned[root.TaskID] {
			continue
		}
		// A root is a task with no unassigned in-phase dependency.
		isRoot := true
		for _, dep := range root.DependsOn {
			if inPhase[dep] && !assigned[dep] {
				isRoot = false
				break
			}
		}
		if !isRoot {
			continue
		}

		cluster := []*wbs.Task{root}
		assigned[root.TaskID] = true
		for _, t := range tasks {
			if assigned[t.TaskID] {
				continue
			}
			for _, dep := range t.DependsOn {
				if dep == root.TaskID {
					cluster = append(cluster, t)
					assigned[t.TaskID] = true
					break
				}
			}
		}
		batches = append(batches, cluster)
	}

	// Anything left has an in-phase dependency chain deeper than one level;
	// each remaining task becomes its own sub-batch, in plan order.
	for _, t := range tasks {
		if !assigned[t.TaskID] {
			batches = append(batches, []*wbs.Task{t})
			assigned[t.TaskID] = true
		}
	}
	return batches
}

// phaseRules maps each BUILD phase to its sub-batching rule.
var phaseRules = map[string]SubBatchRule{
	"data-model":     clusterRule,   // one object plus its field tasks
	"business-logic": clusterRule,   // one class plus its test class
	"ui":             singletonRule, // one UI component per call
	"automation":     clusterRule,   // one automation plus its dependency set
	"security":       singletonRule,
	"data-migration": singletonRule,
}

// RuleFor returns the sub-batch rule for a phase name. Unknown phases
// fall back to singleton batching.
func RuleFor(phaseName string) SubBatchRule {
	if rule, ok := phaseRules[phaseName]; ok {
		return rule
	}
	return singletonRule
}
