package model

import "time"

// Job is a single unit of executable work within a Workflow.
//
// The canonical external identity of a Job is the pair (WorkflowID, JobID);
// see spec.md §9 on composite identifiers — callers must never rely on
// splitting a combined string key to recover JobID.
type Job struct {
	JobID      string   `json:"job_id" yaml:"job_id"`
	WorkflowID string   `json:"workflow_id" yaml:"-"`
	TenantID   string   `json:"tenant_id" yaml:"-"`
	JobType    JobType  `json:"job_type" yaml:"job_type"`
	Branch     string   `json:"branch" yaml:"branch"`
	DependsOn  []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	ImagePath  string   `json:"image_path" yaml:"image_path"`

	Status         JobStatus `json:"status"`
	Progress       float64   `json:"progress"`
	TilesProcessed *int      `json:"tiles_processed,omitempty"`
	TilesTotal     *int      `json:"tiles_total,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ResultPath     string    `json:"result_path,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to a reader outside the Registry's
// write path.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.DependsOn != nil {
		cp.DependsOn = append([]string(nil), j.DependsOn...)
	}
	if j.TilesProcessed != nil {
		v := *j.TilesProcessed
		cp.TilesProcessed = &v
	}
	if j.TilesTotal != nil {
		v := *j.TilesTotal
		cp.TilesTotal = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		cp.StartedAt = &v
	}
	if j.FinishedAt != nil {
		v := *j.FinishedAt
		cp.FinishedAt = &v
	}
	return &cp
}

// Workflow is a user-submitted DAG of Jobs tagged with a tenant.
type Workflow struct {
	WorkflowID string `json:"workflow_id" yaml:"workflow_id"`
	TenantID   string `json:"tenant_id" yaml:"-"`
	Name       string `json:"name" yaml:"name"`
	Jobs       []*Job `json:"jobs" yaml:"jobs"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Status derives the workflow-level status from its jobs per spec.md §3:
// RUNNING once any job is RUNNING or still PENDING post-submission,
// SUCCEEDED when every job SUCCEEDED, FAILED when any job FAILED and none
// is still RUNNING, FAILED as well once every job is terminal but some were
// CANCELLED, else PENDING.
func (w *Workflow) Status() WorkflowStatus {
	if len(w.Jobs) == 0 {
		return WorkflowPending
	}

	allSucceeded := true
	anyFailed := false
	anyRunning := false
	anyPending := false

	for _, j := range w.Jobs {
		switch j.Status {
		case JobSucceeded:
		default:
			allSucceeded = false
		}
		switch j.Status {
		case JobFailed:
			anyFailed = true
		case JobRunning:
			anyRunning = true
		case JobPending:
			anyPending = true
		}
	}

	switch {
	case allSucceeded:
		return WorkflowSucceeded
	case anyFailed && !anyRunning:
		return WorkflowFailed
	case !anyRunning && !anyPending:
		return WorkflowFailed
	case anyRunning || (w.StartedAt != nil && anyPending):
		return WorkflowRunning
	default:
		return WorkflowPending
	}
}

// Progress is the unweighted arithmetic mean of the jobs' progress values
// (spec.md §4.7; see DESIGN.md for the tile-weighting Open Question).
func (w *Workflow) Progress() float64 {
	if len(w.Jobs) == 0 {
		return 0
	}
	var sum float64
	for _, j := range w.Jobs {
		sum += j.Progress
	}
	return sum / float64(len(w.Jobs))
}

// Clone returns a deep copy of the workflow and all its jobs.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	cp := *w
	if w.Jobs != nil {
		cp.Jobs = make([]*Job, len(w.Jobs))
		for i, j := range w.Jobs {
			cp.Jobs[i] = j.Clone()
		}
	}
	if w.StartedAt != nil {
		v := *w.StartedAt
		cp.StartedAt = &v
	}
	if w.FinishedAt != nil {
		v := *w.FinishedAt
		cp.FinishedAt = &v
	}
	return &cp
}

// JobByID returns the job with the given ID, or nil if absent.
func (w *Workflow) JobByID(jobID string) *Job {
	for _, j := range w.Jobs {
		if j.JobID == jobID {
			return j
		}
	}
	return nil
}

// BranchKey identifies a (tenant, branch) serialization queue.
type BranchKey struct {
	TenantID string
	Branch   string
}

// JobPatch is the only way callers may mutate a Job; fields left nil are
// left untouched. This replaces the source's "dynamic JSON patching of job
// state" with a typed record validated against spec.md §3's invariants
// before being applied (see spec.md §9, Patterns requiring re-architecture).
type JobPatch struct {
	Status         *JobStatus
	Progress       *float64
	TilesProcessed *int
	TilesTotal     *int
	ErrorMessage   *string
	ResultPath     *string
	StartedAt      *time.Time
	FinishedAt     *time.Time
}
