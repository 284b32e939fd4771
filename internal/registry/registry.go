// Package registry implements the Job Registry (C2, spec.md §4.2): the
// single source of truth for workflow and job records, indexed by
// workflow-id, by (workflow-id, job-id), and by tenant-id. Only the
// Scheduler Loop (internal/engine) mutates state; every other caller reads
// an immutable, deep-copied snapshot (spec.md §5).
//
// Grounded on the in-memory result tracking of the teacher's persistence
// Recorder (apps/cli/internal/persistence/recorder.go) — the same
// "single writer accumulates into maps, readers get a summary" shape —
// adapted here to the workflow/job schema and the absorbing-terminal /
// monotonic-progress invariants of spec.md §3.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/handleui/branchflow/internal/model"
)

// ErrDuplicateWorkflow is returned by CreateWorkflow when workflow_id
// already exists (spec.md §4.9, duplicate_workflow_id).
var ErrDuplicateWorkflow = errors.New("registry: duplicate workflow id")

// ErrNotFound is returned when a workflow or job lookup fails.
var ErrNotFound = errors.New("registry: not found")

// ErrTerminalJob is returned when a patch attempts to change the status of
// a job that has already reached an absorbing terminal status (spec.md §3
// invariant 6). Patches without a Status are still applied to such a job.
var ErrTerminalJob = errors.New("registry: job already terminal")

type jobKey struct {
	workflowID string
	jobID      string
}

// Registry owns all Workflow/Job state.
type Registry struct {
	mu sync.RWMutex

	workflows map[string]*model.Workflow
	jobIndex  map[jobKey]*model.Job
	byTenant  map[string][]string // tenantID -> workflowIDs, insertion order
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		workflows: make(map[string]*model.Workflow),
		jobIndex:  make(map[jobKey]*model.Job),
		byTenant:  make(map[string][]string),
	}
}

// CreateWorkflow inserts wf (and all of its jobs, expected PENDING with
// zero progress) or fails if its workflow_id already exists.
func (r *Registry) CreateWorkflow(wf *model.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workflows[wf.WorkflowID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWorkflow, wf.WorkflowID)
	}

	stored := wf.Clone()
	r.workflows[stored.WorkflowID] = stored
	for _, j := range stored.Jobs {
		r.jobIndex[jobKey{stored.WorkflowID, j.JobID}] = j
	}
	r.byTenant[stored.TenantID] = append(r.byTenant[stored.TenantID], stored.WorkflowID)
	return nil
}

// UpdateJob applies patch to the (workflowID, jobID) job in place, subject
// to the absorbing-terminal and monotonic-progress invariants of spec.md
// §3. Progress outside [0,1] is clamped; a regressing progress value is
// silently ignored (spec.md §7) rather than erroring.
func (r *Registry) UpdateJob(workflowID, jobID string, patch model.JobPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobIndex[jobKey{workflowID, jobID}]
	if !ok {
		return fmt.Errorf("%w: job %s/%s", ErrNotFound, workflowID, jobID)
	}
	if j.Status.Terminal() && patch.Status != nil {
		return fmt.Errorf("%w: %s/%s", ErrTerminalJob, workflowID, jobID)
	}

	wf := r.workflows[workflowID]

	if patch.Progress != nil {
		p := *patch.Progress
		if p < 0 {
			p = 0
		} else if p > 1 {
			p = 1
		}
		if p >= j.Progress {
			j.Progress = p
		}
		// else: regressing value, ignored without error (spec.md §7).
	}
	if patch.TilesProcessed != nil {
		j.TilesProcessed = patch.TilesProcessed
	}
	if patch.TilesTotal != nil {
		j.TilesTotal = patch.TilesTotal
	}
	if patch.ErrorMessage != nil {
		j.ErrorMessage = *patch.ErrorMessage
	}
	if patch.ResultPath != nil {
		j.ResultPath = *patch.ResultPath
	}
	if patch.StartedAt != nil {
		j.StartedAt = patch.StartedAt
		if wf != nil && wf.StartedAt == nil {
			wf.StartedAt = patch.StartedAt
		}
	}
	if patch.FinishedAt != nil {
		j.FinishedAt = patch.FinishedAt
	}
	if patch.Status != nil {
		j.Status = *patch.Status
	}

	if wf != nil {
		status := wf.Status()
		if status.Terminal() && wf.FinishedAt == nil {
			now := time.Now()
			wf.FinishedAt = &now
		}
	}

	return nil
}

// SnapshotWorkflow returns a deep-immutable copy of the workflow, or
// ErrNotFound.
func (r *Registry) SnapshotWorkflow(workflowID string) (*model.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", ErrNotFound, workflowID)
	}
	return wf.Clone(), nil
}

// SnapshotJob returns a deep copy of a single job, or ErrNotFound.
func (r *Registry) SnapshotJob(workflowID, jobID string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobIndex[jobKey{workflowID, jobID}]
	if !ok {
		return nil, fmt.Errorf("%w: job %s/%s", ErrNotFound, workflowID, jobID)
	}
	return j.Clone(), nil
}

// ListWorkflows returns snapshots of every workflow owned by tenantID, in
// submission order. Isolation is absolute: no workflow of another tenant is
// ever included (spec.md §4.9, §8 P7).
func (r *Registry) ListWorkflows(tenantID string) []*model.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byTenant[tenantID]
	out := make([]*model.Workflow, 0, len(ids))
	for _, id := range ids {
		if wf, ok := r.workflows[id]; ok {
			out = append(out, wf.Clone())
		}
	}
	return out
}

// TenantOf returns the owning tenant of a workflow, for isolation checks at
// the API boundary, and ErrNotFound if the workflow is unknown.
func (r *Registry) TenantOf(workflowID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[workflowID]
	if !ok {
		return "", fmt.Errorf("%w: workflow %s", ErrNotFound, workflowID)
	}
	return wf.TenantID, nil
}

// FindJobByTenant returns the workflow that owns jobID by scanning the
// tenant's own workflows (used by cancel_job, which is only ever given a
// bare job-id; spec.md §9's composite-identifier rule forbids splitting a
// combined key, so this looks the job up by exact match within the
// tenant's jobs instead). Returns ErrNotFound if no single unambiguous
// match exists.
func (r *Registry) FindJobByTenant(tenantID, jobID string) (workflowID string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found string
	matches := 0
	for _, wfID := range r.byTenant[tenantID] {
		wf := r.workflows[wfID]
		if wf.JobByID(jobID) != nil {
			found = wfID
			matches++
		}
	}
	if matches == 0 {
		return "", fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if matches > 1 {
		return "", fmt.Errorf("%w: job id %q is ambiguous across workflows", ErrNotFound, jobID)
	}
	return found, nil
}

// TenantHasActiveJobs reports whether tenantID has any job in PENDING or
// RUNNING across all of its workflows (spec.md's "active tenant" definition).
func (r *Registry) TenantHasActiveJobs(tenantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, wfID := range r.byTenant[tenantID] {
		wf := r.workflows[wfID]
		for _, j := range wf.Jobs {
			if j.Status == model.JobPending || j.Status == model.JobRunning {
				return true
			}
		}
	}
	return false
}

// AllWorkflows returns a snapshot of every workflow, for the metrics view
// (C8), which needs a cross-tenant point-in-time read.
func (r *Registry) AllWorkflows() []*model.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf.Clone())
	}
	return out
}
