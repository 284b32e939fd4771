// Package engine implements the Scheduler Loop (C7, spec.md §4.7): the
// single-writer coordinator that owns every mutation of scheduler state.
// The registry, admission, branchqueue, resolver and workerpool are only
// ever mutated from the loop goroutine started by Run, which is also the
// only publisher on the event bus; external callers submit and cancel
// exclusively through Submit and CancelJob, which round-trip a command
// through the loop's inbox and block for a reply. Subscriptions are
// registered on the bus directly (Events().Subscribe).
//
// Grounded on the teacher's single-goroutine command loop
// (apps/cli/internal/runner/runner.go), which likewise serializes all state
// transitions through one select/command-processing goroutine rather than
// locking a shared struct from multiple callers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/handleui/branchflow/internal/admission"
	"github.com/handleui/branchflow/internal/branchqueue"
	"github.com/handleui/branchflow/internal/events"
	"github.com/handleui/branchflow/internal/metrics"
	"github.com/handleui/branchflow/internal/model"
	"github.com/handleui/branchflow/internal/obs"
	"github.com/handleui/branchflow/internal/registry"
	"github.com/handleui/branchflow/internal/resolver"
	"github.com/handleui/branchflow/internal/workerpool"
)

// ErrRejectedByAdmission is returned by Submit when MAX_ACTIVE_USERS is
// already reached and tenantID is not already active (spec.md §4.3).
var ErrRejectedByAdmission = errors.New("engine: tenant rejected by admission control")

// ErrNotCancellable is returned by CancelJob when the target job is not
// PENDING (spec.md §4.9: only a still-queued job may be cancelled).
var ErrNotCancellable = errors.New("engine: job is not cancellable")

// ErrJobNotFound is returned by CancelJob when no unambiguous job matches.
var ErrJobNotFound = errors.New("engine: job not found")

// Config carries the tunables of spec.md §6.
type Config struct {
	MaxWorkers     int
	MaxActiveUsers int
	MailboxSize    int
}

// Engine is the Scheduler Loop. Construct with New, start with Run, and
// drive it exclusively through Submit/CancelJob from other goroutines.
type Engine struct {
	cfg Config

	registry  *registry.Registry
	bus       *events.Bus
	admission *admission.Controller
	queues    *branchqueue.Queues
	resolver  *resolver.Resolver
	pool      *workerpool.Pool

	in *inbox

	runningCount   int
	dispatchCursor int

	latencyHook func(time.Duration)
}

// SetLatencyHook registers a callback invoked with a job's wall-clock
// duration every time a job the worker pool ran finishes, feeding the
// metrics view's sliding latency window. Jobs that never started (cancelled
// or cascade-failed while PENDING) do not invoke it. Must be called before
// Run starts processing commands.
func (e *Engine) SetLatencyHook(hook func(time.Duration)) {
	e.latencyHook = hook
}

// New wires the Scheduler Loop's collaborators together. dispatch is the
// job_type -> Executor table passed through to the worker pool (C6).
func New(cfg Config, dispatch workerpool.Dispatch) *Engine {
	bus := events.New(cfg.MailboxSize)
	return &Engine{
		cfg:       cfg,
		registry:  registry.New(),
		bus:       bus,
		admission: admission.New(cfg.MaxActiveUsers),
		queues:    branchqueue.New(),
		resolver:  resolver.New(),
		pool:      workerpool.New(cfg.MaxWorkers, dispatch),
		in:        newInbox(),
	}
}

// Registry exposes the underlying Job Registry for read-only access by the
// Control API and metrics view.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Events exposes the event bus so the Control API can hand out subscriptions.
func (e *Engine) Events() *events.Bus { return e.bus }

// Admission exposes the admission controller for the metrics view.
func (e *Engine) Admission() *admission.Controller { return e.admission }

// Queues exposes the branch queues for the metrics view.
func (e *Engine) Queues() *branchqueue.Queues { return e.queues }

// Run drives the Scheduler Loop until ctx is cancelled, then waits for any
// in-flight jobs to finish (spec.md: in-flight work completes on shutdown).
func (e *Engine) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		e.in.close()
	}()

	go func() {
		defer close(done)
		for {
			cmd, ok := e.in.pop()
			if !ok {
				return
			}
			e.handle(cmd)
		}
	}()

	<-done
	e.pool.Wait()
}

// submitRequest is the inbox command for Submit.
type submitRequest struct {
	workflow *model.Workflow
	resultCh chan error
}

// cancelRequest is the inbox command for CancelJob.
type cancelRequest struct {
	tenantID string
	jobID    string
	resultCh chan error
}

// workerProgressCmd is pushed by the worker pool's onProgress callback.
type workerProgressCmd struct {
	update workerpool.ProgressUpdate
}

// workerCompleteCmd is pushed by the worker pool's onComplete callback.
type workerCompleteCmd struct {
	outcome workerpool.Outcome
}

// Submit validates and admits wf, blocking until the loop has processed it
// (or ctx is cancelled first). A generated workflow_id is expected to
// already be set by the caller (internal/api owns id generation).
func (e *Engine) Submit(ctx context.Context, wf *model.Workflow) error {
	req := submitRequest{workflow: wf, resultCh: make(chan error, 1)}
	e.in.push(req)
	select {
	case err := <-req.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelJob cancels the PENDING job identified by jobID within tenantID's
// workflows, blocking until the loop has processed it.
func (e *Engine) CancelJob(ctx context.Context, tenantID, jobID string) error {
	req := cancelRequest{tenantID: tenantID, jobID: jobID, resultCh: make(chan error, 1)}
	e.in.push(req)
	select {
	case err := <-req.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle dispatches one inbox command. Only ever called from the loop
// goroutine started in Run.
func (e *Engine) handle(cmd any) {
	switch c := cmd.(type) {
	case submitRequest:
		c.resultCh <- e.handleSubmit(c.workflow)
	case cancelRequest:
		c.resultCh <- e.handleCancel(c.tenantID, c.jobID)
	case workerProgressCmd:
		e.handleWorkerProgress(c.update)
	case workerCompleteCmd:
		e.handleWorkerComplete(c.outcome)
	}
	e.selfTest()
}

// selfTest runs the read-only structural self-check of the universal
// invariants (spec.md §8 P1-P4) after every mutation and reports any
// violation as an invariant-violation (spec.md §7: "Scheduler-internal
// invariant violations are fatal ... the health snapshot transitions to
// unhealthy"). The process keeps running; only the health snapshot
// (internal/metrics, which runs the same check) is affected.
func (e *Engine) selfTest() {
	for _, v := range metrics.CheckInvariants(e.registry, e.admission, e.queues, e.cfg.MaxWorkers) {
		obs.CaptureError(context.Background(), fmt.Errorf("invariant violation: %s", v))
	}
}

func (e *Engine) handleSubmit(wf *model.Workflow) error {
	if err := validateStructure(wf); err != nil {
		return err
	}
	if _, err := e.registry.TenantOf(wf.WorkflowID); err == nil {
		return fmt.Errorf("%w: %s", registry.ErrDuplicateWorkflow, wf.WorkflowID)
	}

	if e.admission.TryAdmit(wf.TenantID) == admission.Rejected {
		return ErrRejectedByAdmission
	}

	if err := e.registry.CreateWorkflow(wf); err != nil {
		e.maybeReleaseTenant(wf.TenantID)
		return err
	}

	ready := e.resolver.Register(wf)
	for _, jobID := range ready {
		job := wf.JobByID(jobID)
		e.queues.Enqueue(branchqueue.Key{TenantID: wf.TenantID, Branch: job.Branch}, branchqueue.Ref{WorkflowID: wf.WorkflowID, JobID: jobID})
	}

	e.emitWorkflowStatus(wf.TenantID, wf.WorkflowID, model.WorkflowPending, "")
	e.dispatchPass()
	return nil
}

func (e *Engine) handleCancel(tenantID, jobID string) error {
	workflowID, err := e.registry.FindJobByTenant(tenantID, jobID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	snap, err := e.registry.SnapshotJob(workflowID, jobID)
	if err != nil {
		return err
	}
	if snap.Status != model.JobPending {
		return fmt.Errorf("%w: job %s is %s", ErrNotCancellable, jobID, snap.Status)
	}

	cancelled := model.JobCancelled
	if err := e.registry.UpdateJob(workflowID, jobID, model.JobPatch{Status: &cancelled}); err != nil {
		return err
	}
	e.queues.Remove(branchqueue.Key{TenantID: tenantID, Branch: snap.Branch}, branchqueue.Ref{WorkflowID: workflowID, JobID: jobID})
	e.emitJobStatus(tenantID, workflowID, jobID, model.JobCancelled, "")

	e.cascadeFail(tenantID, workflowID, jobID, fmt.Sprintf("upstream job %s was cancelled", jobID))

	e.finalizeIfTerminal(tenantID, workflowID)
	e.dispatchPass()
	return nil
}

func (e *Engine) handleWorkerProgress(u workerpool.ProgressUpdate) {
	tenantID, err := e.registry.TenantOf(u.WorkflowID)
	if err != nil {
		return
	}
	patch := model.JobPatch{Progress: &u.Progress, TilesProcessed: u.TilesProcessed, TilesTotal: u.TilesTotal}
	if err := e.registry.UpdateJob(u.WorkflowID, u.JobID, patch); err != nil {
		return
	}

	job, err := e.registry.SnapshotJob(u.WorkflowID, u.JobID)
	if err != nil {
		return
	}
	e.bus.Publish(events.Event{
		Kind: events.KindJobProgress, TenantID: tenantID, WorkflowID: u.WorkflowID, JobID: u.JobID,
		Progress: job.Progress, TilesProcessed: job.TilesProcessed, TilesTotal: job.TilesTotal,
	})

	if wf, err := e.registry.SnapshotWorkflow(u.WorkflowID); err == nil {
		e.bus.Publish(events.Event{
			Kind: events.KindWorkflowProgress, TenantID: tenantID, WorkflowID: u.WorkflowID,
			Progress: wf.Progress(),
		})
	}
}

func (e *Engine) handleWorkerComplete(o workerpool.Outcome) {
	e.runningCount--

	tenantID, err := e.registry.TenantOf(o.WorkflowID)
	if err != nil {
		return
	}

	job, err := e.registry.SnapshotJob(o.WorkflowID, o.JobID)
	if err != nil {
		return
	}
	now := time.Now()
	patch := model.JobPatch{Status: &o.Status, ResultPath: &o.ResultPath, ErrorMessage: &o.ErrorMessage, FinishedAt: &now}
	if err := e.registry.UpdateJob(o.WorkflowID, o.JobID, patch); err != nil {
		return
	}
	e.queues.MarkDone(branchqueue.Key{TenantID: tenantID, Branch: job.Branch})
	e.emitJobStatus(tenantID, o.WorkflowID, o.JobID, o.Status, o.ErrorMessage)

	if e.latencyHook != nil && job.StartedAt != nil {
		e.latencyHook(now.Sub(*job.StartedAt))
	}

	switch o.Status {
	case model.JobSucceeded:
		ready := e.resolver.OnSucceeded(o.WorkflowID, o.JobID)
		for _, jobID := range ready {
			if wf, err := e.registry.SnapshotWorkflow(o.WorkflowID); err == nil {
				if j := wf.JobByID(jobID); j != nil {
					e.queues.Enqueue(branchqueue.Key{TenantID: tenantID, Branch: j.Branch}, branchqueue.Ref{WorkflowID: o.WorkflowID, JobID: jobID})
				}
			}
		}
	case model.JobFailed:
		e.cascadeFail(tenantID, o.WorkflowID, o.JobID, fmt.Sprintf("upstream failure: %s", o.JobID))
	}

	e.finalizeIfTerminal(tenantID, o.WorkflowID)
	e.dispatchPass()
}

// cascadeFail marks every transitive dependent of jobID FAILED with reason,
// removing any that are still queued (spec.md §4.5/§4.9).
func (e *Engine) cascadeFail(tenantID, workflowID, jobID, reason string) {
	dependents := e.resolver.Dependents(workflowID, jobID)
	for _, depID := range dependents {
		snap, err := e.registry.SnapshotJob(workflowID, depID)
		if err != nil || snap.Status.Terminal() {
			continue
		}
		failed := model.JobFailed
		msg := reason
		if err := e.registry.UpdateJob(workflowID, depID, model.JobPatch{Status: &failed, ErrorMessage: &msg}); err != nil {
			continue
		}
		e.queues.Remove(branchqueue.Key{TenantID: tenantID, Branch: snap.Branch}, branchqueue.Ref{WorkflowID: workflowID, JobID: depID})
		e.emitJobStatus(tenantID, workflowID, depID, model.JobFailed, msg)
	}
}

// finalizeIfTerminal recomputes the workflow status and, if it is now
// terminal, emits workflow_status, forgets the resolver graph, and releases
// the tenant's admission slot once it has no active jobs anywhere else.
func (e *Engine) finalizeIfTerminal(tenantID, workflowID string) {
	wf, err := e.registry.SnapshotWorkflow(workflowID)
	if err != nil {
		return
	}
	status := wf.Status()
	if !status.Terminal() {
		return
	}
	e.emitWorkflowStatus(tenantID, workflowID, status, "")
	e.resolver.Forget(workflowID)
	e.maybeReleaseTenant(tenantID)
}

func (e *Engine) maybeReleaseTenant(tenantID string) {
	if !e.registry.TenantHasActiveJobs(tenantID) {
		e.admission.Release(tenantID)
	}
}

// dispatchPass submits as many ready, idle (tenant,branch) queue heads as
// MAX_WORKERS allows, scanning branch-queue keys round-robin so that no
// tenant or branch can starve another (spec.md §4.7).
func (e *Engine) dispatchPass() {
	keys := e.queues.Keys()
	if len(keys) == 0 {
		return
	}
	sort.Slice(keys, func(i, j int) bool {
		return keyString(keys[i]) < keyString(keys[j])
	})

	start := e.dispatchCursor % len(keys)
	dispatchedThrough := -1

	for i := 0; i < len(keys); i++ {
		if e.cfg.MaxWorkers > 0 && e.runningCount >= e.cfg.MaxWorkers {
			break
		}
		idx := (start + i) % len(keys)
		key := keys[idx]

		ref, ok := e.queues.TakeIfIdle(key)
		if !ok {
			continue
		}
		dispatchedThrough = idx
		e.startJob(key.TenantID, ref)
	}

	if dispatchedThrough >= 0 {
		e.dispatchCursor = (dispatchedThrough + 1) % len(keys)
	}
}

// startJob transitions ref to RUNNING and submits it to the worker pool.
func (e *Engine) startJob(tenantID string, ref branchqueue.Ref) {
	workflowID, jobID := ref.WorkflowID, ref.JobID
	now := time.Now()
	running := model.JobRunning
	if err := e.registry.UpdateJob(workflowID, jobID, model.JobPatch{Status: &running, StartedAt: &now}); err != nil {
		return
	}
	job, err := e.registry.SnapshotJob(workflowID, jobID)
	if err != nil {
		return
	}

	e.runningCount++
	e.emitJobStatus(tenantID, workflowID, jobID, model.JobRunning, "")

	e.pool.Submit(context.Background(), job,
		func(u workerpool.ProgressUpdate) { e.in.push(workerProgressCmd{update: u}) },
		func(o workerpool.Outcome) { e.in.push(workerCompleteCmd{outcome: o}) },
	)
}

func (e *Engine) emitJobStatus(tenantID, workflowID, jobID string, status model.JobStatus, errMsg string) {
	e.bus.Publish(events.Event{
		Kind: events.KindJobStatus, TenantID: tenantID, WorkflowID: workflowID, JobID: jobID,
		JobStatus: string(status), ErrorMessage: errMsg,
	})
}

func (e *Engine) emitWorkflowStatus(tenantID, workflowID string, status model.WorkflowStatus, errMsg string) {
	e.bus.Publish(events.Event{
		Kind: events.KindWorkflowStatus, TenantID: tenantID, WorkflowID: workflowID,
		WorkflowStatus: string(status), ErrorMessage: errMsg,
	})
}

func keyString(k branchqueue.Key) string {
	return k.TenantID + "/" + k.Branch
}
