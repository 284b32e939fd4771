// Package workerpool implements the Worker Pool (C6, spec.md §4.6): a
// bounded concurrent executor that invokes the opaque per-job-type executor
// and reports completion and progress back to the caller via callbacks. The
// pool knows nothing about tenants or branches — the Scheduler Loop
// (internal/engine) is responsible for never submitting more than one job
// per (tenant, branch) at a time.
//
// Grounded on the errgroup-bounded fan-out the teacher uses for parallel
// preflight checks (apps/cli/internal/runner/preparer.go,
// apps/cli/internal/runner/check.go: `errgroup.WithContext` + `g.Go`), with
// a SetLimit cap standing in for spec.md's MAX_WORKERS and job outcomes
// reported through callbacks instead of the group's own error return, since
// one job's failure must never cancel its siblings.
package workerpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/handleui/branchflow/internal/model"
)

// ProgressSink is passed to an Executor; it is safe to call from any
// concurrency context the executor uses internally (spec.md §6).
type ProgressSink func(progress float64, tilesProcessed, tilesTotal *int)

// Result is what an Executor reports at completion.
type Result struct {
	Status       model.JobStatus // JobSucceeded or JobFailed
	ResultPath   string
	ErrorMessage string
}

// Executor runs one job to completion. It must not block past ctx
// cancellation indefinitely; the pool does not enforce a timeout itself
// (spec.md §5: "Timeouts. Not specified at the core level").
type Executor interface {
	Execute(ctx context.Context, job *model.Job, progress ProgressSink) Result
}

// Dispatch is the fixed job_type -> Executor table (spec.md §4.6).
type Dispatch map[model.JobType]Executor

// ProgressUpdate is delivered via the pool's onProgress callback.
type ProgressUpdate struct {
	WorkflowID     string
	JobID          string
	Progress       float64
	TilesProcessed *int
	TilesTotal     *int
}

// Outcome is delivered via the pool's onComplete callback exactly once per
// submitted job.
type Outcome struct {
	WorkflowID   string
	JobID        string
	Status       model.JobStatus // JobSucceeded, JobFailed, or JobCancelled
	ResultPath   string
	ErrorMessage string
}

// Pool bounds concurrent job executions to maxWorkers.
type Pool struct {
	dispatch Dispatch
	group    *errgroup.Group
}

// New creates a Pool that executes at most maxWorkers jobs concurrently,
// selecting an Executor from dispatch by job_type.
func New(maxWorkers int, dispatch Dispatch) *Pool {
	g := &errgroup.Group{}
	if maxWorkers > 0 {
		g.SetLimit(maxWorkers)
	}
	return &Pool{dispatch: dispatch, group: g}
}

// Submit runs job asynchronously. onProgress and onComplete are invoked
// from the pool's own goroutine, except for a job_type with no registered
// Executor, whose FAILED outcome is delivered synchronously from within
// Submit — callers (the Scheduler Loop) must
// marshal them back onto their own event channel rather than mutate shared
// state directly from inside these callbacks (spec.md §5).
//
// Submit itself never blocks past the point of acquiring a pool slot; if
// the pool is at maxWorkers capacity the call blocks until a slot frees,
// which is why the Scheduler Loop only calls Submit after confirming
// running-count < MAX_WORKERS itself (spec.md §4.7's dispatch pass).
func (p *Pool) Submit(ctx context.Context, job *model.Job, onProgress func(ProgressUpdate), onComplete func(Outcome)) {
	exec, ok := p.dispatch[job.JobType]
	workflowID, jobID := job.WorkflowID, job.JobID

	if !ok {
		// Validation at submission time (spec.md §4.9 rule 7) should have
		// already rejected unknown job types; this is a defensive fallback.
		onComplete(Outcome{
			WorkflowID:   workflowID,
			JobID:        jobID,
			Status:       model.JobFailed,
			ErrorMessage: fmt.Sprintf("no executor registered for job_type %q", job.JobType),
		})
		return
	}

	snapshot := job.Clone()

	p.group.Go(func() error {
		sink := func(progress float64, tilesProcessed, tilesTotal *int) {
			onProgress(ProgressUpdate{
				WorkflowID:     workflowID,
				JobID:          jobID,
				Progress:       progress,
				TilesProcessed: tilesProcessed,
				TilesTotal:     tilesTotal,
			})
		}

		result := runExecutor(ctx, exec, snapshot, sink)

		onComplete(Outcome{
			WorkflowID:   workflowID,
			JobID:        jobID,
			Status:       result.Status,
			ResultPath:   result.ResultPath,
			ErrorMessage: result.ErrorMessage,
		})
		return nil
	})
}

// runExecutor invokes exec.Execute, converting a panic into a FAILED result
// instead of crashing the pool goroutine.
func runExecutor(ctx context.Context, exec Executor, job *model.Job, sink ProgressSink) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Status: model.JobFailed, ErrorMessage: fmt.Sprintf("executor panicked: %v", r)}
		}
	}()
	return exec.Execute(ctx, job, sink)
}

// Wait blocks until every submitted job has completed. Used during
// graceful shutdown (spec.md's "the process continues" language implies
// in-flight jobs are allowed to finish).
func (p *Pool) Wait() {
	_ = p.group.Wait()
}
