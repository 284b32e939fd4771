package engine

import (
	"fmt"

	"github.com/handleui/branchflow/internal/model"
)

// ValidationError reports which spec.md §4.9 validation rule was violated.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// validateStructure checks spec.md §4.9 rules 3-9 (tenant/workflow-id
// uniqueness are checked against the Registry by the caller, since they
// need shared state). wf must already have TenantID and WorkflowID set.
func validateStructure(wf *model.Workflow) error {
	if len(wf.Jobs) == 0 {
		return &ValidationError{Reason: "workflow must declare at least one job"}
	}

	seen := make(map[string]*model.Job, len(wf.Jobs))
	for _, j := range wf.Jobs {
		if j.JobID == "" {
			return &ValidationError{Reason: "job_id must not be empty"}
		}
		if _, dup := seen[j.JobID]; dup {
			return &ValidationError{Reason: fmt.Sprintf("duplicate job_id %q within workflow", j.JobID)}
		}
		seen[j.JobID] = j

		if !model.ValidJobType(j.JobType) {
			return &ValidationError{Reason: fmt.Sprintf("job %q: unsupported job_type %q", j.JobID, j.JobType)}
		}
		if j.Branch == "" {
			return &ValidationError{Reason: fmt.Sprintf("job %q: branch must not be empty", j.JobID)}
		}
		if j.ImagePath == "" {
			return &ValidationError{Reason: fmt.Sprintf("job %q: image_path must not be empty", j.JobID)}
		}
	}

	for _, j := range wf.Jobs {
		for _, dep := range j.DependsOn {
			if _, ok := seen[dep]; !ok {
				return &ValidationError{Reason: fmt.Sprintf("job %q depends_on unknown job %q", j.JobID, dep)}
			}
		}
	}

	if cyclePath, ok := findCycle(wf.Jobs); ok {
		return &ValidationError{Reason: fmt.Sprintf("dependency cycle: %v", cyclePath)}
	}

	return nil
}

// cycle-detection colors.
const (
	white = 0 // unvisited
	gray  = 1 // on the current DFS stack
	black = 2 // fully explored
)

// findCycle runs a DFS over the depends_on edges and reports the first
// cycle found, as a slice of job-ids in traversal order.
func findCycle(jobs []*model.Job) ([]string, bool) {
	byID := make(map[string]*model.Job, len(jobs))
	for _, j := range jobs {
		byID[j.JobID] = j
	}

	color := make(map[string]int, len(jobs))
	var stack []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		color[id] = gray
		stack = append(stack, id)

		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				// Found the back-edge; slice the stack from dep's position.
				for i, s := range stack {
					if s == dep {
						return append(append([]string(nil), stack[i:]...), dep), true
					}
				}
				return []string{dep, id}, true
			case white:
				if path, found := visit(dep); found {
					return path, true
				}
			}
		}

		color[id] = black
		stack = stack[:len(stack)-1]
		return nil, false
	}

	for _, j := range jobs {
		if color[j.JobID] == white {
			if path, found := visit(j.JobID); found {
				return path, true
			}
		}
	}
	return nil, false
}
