// internal/pipeline/planner.go
package pipeline

import (
	"fmt"
)

// Stage is a set of same-resource-class validators with no pending
// dependencies between them. Stages execute strictly in order; members of
// one stage run concurrently, bounded by the class's concurrency limit.
type Stage struct {
	Class      ResourceClass
	Validators []*registered
}

// Plan is the per-request execution plan: an ordered sequence of stages.
// Building one is a sort and partition over a small validator set, cheap
// enough to do fresh on every request.
type Plan struct {
	Stages []Stage
}

// Order flattens the plan into validator names in execution-plan order.
func (p Plan) Order() []string {
	var names []string
	for _, stage := range p.Stages {
		for _, v := range stage.Validators {
			names = append(names, v.name())
		}
	}
	return names
}

// buildPlan partitions the cost-ordered validators into stages. Each stage
// is a maximal consecutive run of validators that share a resource class
// and whose dependencies all completed in earlier stages; a class change or
// a pending dependency cuts the run. Cheap validators therefore finish (and
// can reject) before costlier runs ever start, and concatenating stages
// yields a valid topological order even when the cost order places a
// dependent ahead of its dependency.
func buildPlan(ordered []*registered) Plan {
	var plan Plan

	completed := make(map[string]bool, len(ordered))
	remaining := ordered

	for len(remaining) > 0 {
		var stage, deferred []*registered
		var class ResourceClass
		broken := false

		for _, v := range remaining {
			if !broken && depsSatisfied(v, completed) {
				if len(stage) == 0 {
					class = v.v.ResourceClass()
					stage = append(stage, v)
					continue
				}
				if v.v.ResourceClass() == class {
					stage = append(stage, v)
					continue
				}
			}
			if len(stage) > 0 {
				// The run ended; everything after keeps its order
				// for the next round.
				broken = true
			}
			deferred = append(deferred, v)
		}

		if len(stage) == 0 {
			// Unsatisfiable dependencies; construction-time cycle
			// validation makes this unreachable.
			break
		}

		plan.Stages = append(plan.Stages, Stage{Class: class, Validators: stage})
		for _, v := range stage {
			completed[v.name()] = true
		}
		remaining = deferred
	}

	return plan
}

func depsSatisfied(v *registered, completed map[string]bool) bool {
	for _, dep := range v.deps {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// validateDependencies rejects unknown dependency names and cycles at
// pipeline construction time. A declared cycle is a configuration error and
// fails startup, never a silent request-time fallback.
func validateDependencies(validators []*registered) error {
	byName := make(map[string]*registered, len(validators))
	for _, v := range validators {
		byName[v.name()] = v
	}

	for _, v := range validators {
		for _, dep := range v.deps {
			if dep == v.name() {
				return fmt.Errorf("validator %s depends on itself", v.name())
			}
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("validator %s depends on unknown validator %s", v.name(), dep)
			}
		}
	}

	// Three-color DFS for cycle detection
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(validators))

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = grey
		for _, dep := range byName[name].deps {
			switch color[dep] {
			case grey:
				return fmt.Errorf("dependency cycle through validators %s and %s", name, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}

	for _, v := range validators {
		if color[v.name()] == white {
			if err := visit(v.name()); err != nil {
				return err
			}
		}
	}
	return nil
}
