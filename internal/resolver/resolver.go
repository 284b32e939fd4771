// Package resolver implements the Dependency Resolver (C5, spec.md §4.5):
// per-workflow in-degree tracking (Kahn's algorithm) that promotes a job to
// ready once every predecessor has SUCCEEDED, and cascades FAILED status to
// transitive dependents when a predecessor fails.
//
// Grounded on the in-degree / ready-queue shape of the pack's DAG scheduler
// (other_examples, 88lin-divinesense ai-agents-orchestrator dag_scheduler.go),
// which likewise tracks inDegree per task and a graph of upstream ->
// downstream edges to feed a ready queue — adapted here to a per-workflow
// scoped resolver with an explicit cascade-fail walk, since the source
// additionally needs the transitive-failure propagation from spec.md §4.5.
package resolver

import "github.com/handleui/branchflow/internal/model"

type workflowGraph struct {
	// outstanding[jobID] is the number of not-yet-SUCCEEDED predecessors.
	outstanding map[string]int
	// successors[jobID] is the set of jobs that declare jobID as a dependency.
	successors map[string][]string
}

// Resolver tracks dependency graphs for every in-flight workflow.
type Resolver struct {
	graphs map[string]*workflowGraph
}

// New creates an empty Resolver.
func New() *Resolver {
	return &Resolver{graphs: make(map[string]*workflowGraph)}
}

// Register builds the dependency graph for a newly submitted workflow and
// returns the set of jobs with zero predecessors (spec.md's
// initially_ready).
func (r *Resolver) Register(wf *model.Workflow) []string {
	g := &workflowGraph{
		outstanding: make(map[string]int, len(wf.Jobs)),
		successors:  make(map[string][]string, len(wf.Jobs)),
	}

	for _, j := range wf.Jobs {
		g.outstanding[j.JobID] = len(j.DependsOn)
	}
	for _, j := range wf.Jobs {
		for _, dep := range j.DependsOn {
			g.successors[dep] = append(g.successors[dep], j.JobID)
		}
	}

	r.graphs[wf.WorkflowID] = g

	var ready []string
	for _, j := range wf.Jobs {
		if g.outstanding[j.JobID] == 0 {
			ready = append(ready, j.JobID)
		}
	}
	return ready
}

// OnSucceeded decrements the outstanding-predecessor count of jobID's
// successors and returns those whose count reached zero (newly ready).
func (r *Resolver) OnSucceeded(workflowID, jobID string) []string {
	g, ok := r.graphs[workflowID]
	if !ok {
		return nil
	}

	var ready []string
	for _, succ := range g.successors[jobID] {
		g.outstanding[succ]--
		if g.outstanding[succ] == 0 {
			ready = append(ready, succ)
		}
	}
	return ready
}

// Dependents returns every job (direct and transitive) that depends on
// jobID, in breadth-first discovery order, for the cascading-failure walk
// of spec.md §4.5 / §4.9.
func (r *Resolver) Dependents(workflowID, jobID string) []string {
	g, ok := r.graphs[workflowID]
	if !ok {
		return nil
	}

	seen := map[string]bool{jobID: true}
	queue := append([]string(nil), g.successors[jobID]...)
	var out []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		queue = append(queue, g.successors[id]...)
	}
	return out
}

// Forget discards the graph for a workflow once it has reached a terminal
// status, freeing memory (the registry remains the source of truth for
// historical state).
func (r *Resolver) Forget(workflowID string) {
	delete(r.graphs, workflowID)
}
