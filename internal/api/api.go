// Package api implements the Control API's transport-independent layer
// (C9, spec.md §4.9): request/response DTOs, validation of the transport
// concerns the engine itself doesn't know about (tenant_id header presence,
// workflow_id generation), and translation of engine errors into typed,
// wire-stable api.Error values.
//
// Grounded on the teacher's runner.RunConfig (apps/cli/internal/runner/config.go):
// a DTO with its own Validate() that normalizes defaults and rejects bad
// input before it ever reaches the execution engine.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/handleui/branchflow/internal/config"
	"github.com/handleui/branchflow/internal/engine"
	"github.com/handleui/branchflow/internal/model"
	"github.com/handleui/branchflow/internal/registry"
)

// ErrorKind classifies an API-level failure for transport mapping (spec.md
// §4.9's named error conditions).
type ErrorKind string

const (
	ErrKindTenantMissing     ErrorKind = "tenant_missing"
	ErrKindValidation        ErrorKind = "validation_failed"
	ErrKindDuplicateWorkflow ErrorKind = "duplicate_workflow_id"
	ErrKindAdmissionRejected ErrorKind = "tenant_rejected"
	ErrKindNotFound          ErrorKind = "not_found"
	ErrKindNotCancellable    ErrorKind = "not_cancellable"
	ErrKindImagePathDenied   ErrorKind = "image_path_denied"
	ErrKindInternal          ErrorKind = "internal_error"
)

// Error is the typed API failure wrapping an ErrorKind with a human message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// JobSpec is the wire shape of one job within a submitted workflow. Tagged
// for both JSON and YAML since internal/transport/http accepts either,
// content-negotiated on the request's Content-Type.
type JobSpec struct {
	JobID     string   `json:"job_id" yaml:"job_id"`
	JobType   string   `json:"job_type" yaml:"job_type"`
	Branch    string   `json:"branch" yaml:"branch"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	ImagePath string   `json:"image_path" yaml:"image_path"`
}

// WorkflowSpec is the wire shape of a submit_workflow request body. If
// WorkflowID is empty one is generated server-side (spec.md §9 open
// question, resolved: auto-generation is friendlier to clients than forcing
// them to mint a UUID themselves, and the uniqueness check happens
// regardless of origin).
type WorkflowSpec struct {
	WorkflowID string    `json:"workflow_id,omitempty" yaml:"workflow_id,omitempty"`
	Name       string    `json:"name,omitempty" yaml:"name,omitempty"`
	Jobs       []JobSpec `json:"jobs" yaml:"jobs"`
}

// Service is the transport-independent Control API surface; an HTTP (or any
// other) transport adapts requests into these calls.
type Service struct {
	eng *engine.Engine
	cfg *config.Config
}

// New creates a Service bound to eng and cfg (cfg.ImagePathAllowlist gates
// submission before the engine ever sees the workflow).
func New(eng *engine.Engine, cfg *config.Config) *Service {
	return &Service{eng: eng, cfg: cfg}
}

// SubmitWorkflow validates spec, converts it into a model.Workflow owned by
// tenantID, and submits it to the engine.
func (s *Service) SubmitWorkflow(ctx context.Context, tenantID string, spec WorkflowSpec) (*model.Workflow, error) {
	if tenantID == "" {
		return nil, &Error{Kind: ErrKindTenantMissing, Message: "tenant_id is required"}
	}
	if len(spec.Jobs) == 0 {
		return nil, &Error{Kind: ErrKindValidation, Message: "jobs must not be empty"}
	}

	workflowID := spec.WorkflowID
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	jobs := make([]*model.Job, len(spec.Jobs))
	for i, js := range spec.Jobs {
		if !s.cfg.AllowsImagePath(js.ImagePath) {
			return nil, &Error{Kind: ErrKindImagePathDenied, Message: "image_path not permitted: " + js.ImagePath}
		}
		jobs[i] = &model.Job{
			JobID:      js.JobID,
			WorkflowID: workflowID,
			TenantID:   tenantID,
			JobType:    model.JobType(js.JobType),
			Branch:     js.Branch,
			DependsOn:  js.DependsOn,
			ImagePath:  js.ImagePath,
			Status:     model.JobPending,
		}
	}

	wf := &model.Workflow{
		WorkflowID: workflowID,
		TenantID:   tenantID,
		Name:       spec.Name,
		Jobs:       jobs,
		CreatedAt:  time.Now(),
	}

	if err := s.eng.Submit(ctx, wf); err != nil {
		return nil, translateSubmitErr(err)
	}
	return s.eng.Registry().SnapshotWorkflow(workflowID)
}

// CancelJob cancels a PENDING job owned by tenantID.
func (s *Service) CancelJob(ctx context.Context, tenantID, jobID string) error {
	if tenantID == "" {
		return &Error{Kind: ErrKindTenantMissing, Message: "tenant_id is required"}
	}
	if err := s.eng.CancelJob(ctx, tenantID, jobID); err != nil {
		return translateCancelErr(err)
	}
	return nil
}

// GetWorkflow returns tenantID's view of a workflow, refusing access to
// workflows owned by other tenants (spec.md §8 P7).
func (s *Service) GetWorkflow(tenantID, workflowID string) (*model.Workflow, error) {
	owner, err := s.eng.Registry().TenantOf(workflowID)
	if err != nil || owner != tenantID {
		return nil, &Error{Kind: ErrKindNotFound, Message: "workflow not found"}
	}
	return s.eng.Registry().SnapshotWorkflow(workflowID)
}

// ListWorkflows returns every workflow tenantID owns.
func (s *Service) ListWorkflows(tenantID string) []*model.Workflow {
	return s.eng.Registry().ListWorkflows(tenantID)
}

// GetJobResults returns tenantID's view of jobID's outcome (status,
// result_path, error_message; spec.md §6's get_job_results). Like
// CancelJob, this takes a bare job-id: see spec.md §9's composite
// identifier open question and the branchqueue.Ref design note in
// DESIGN.md for why the dispatch path never has this ambiguity but this
// external, job-id-only lookup can.
func (s *Service) GetJobResults(tenantID, jobID string) (*model.Job, error) {
	workflowID, err := s.eng.Registry().FindJobByTenant(tenantID, jobID)
	if err != nil {
		return nil, &Error{Kind: ErrKindNotFound, Message: "job not found"}
	}
	job, err := s.eng.Registry().SnapshotJob(workflowID, jobID)
	if err != nil {
		return nil, &Error{Kind: ErrKindNotFound, Message: "job not found"}
	}
	return job, nil
}

func translateSubmitErr(err error) error {
	var ve *engine.ValidationError
	switch {
	case errors.As(err, &ve):
		return &Error{Kind: ErrKindValidation, Message: ve.Error()}
	case errors.Is(err, registry.ErrDuplicateWorkflow):
		return &Error{Kind: ErrKindDuplicateWorkflow, Message: err.Error()}
	case errors.Is(err, engine.ErrRejectedByAdmission):
		return &Error{Kind: ErrKindAdmissionRejected, Message: err.Error()}
	default:
		return &Error{Kind: ErrKindInternal, Message: err.Error()}
	}
}

func translateCancelErr(err error) error {
	switch {
	case errors.Is(err, engine.ErrJobNotFound):
		return &Error{Kind: ErrKindNotFound, Message: err.Error()}
	case errors.Is(err, engine.ErrNotCancellable):
		return &Error{Kind: ErrKindNotCancellable, Message: err.Error()}
	default:
		return &Error{Kind: ErrKindInternal, Message: err.Error()}
	}
}
