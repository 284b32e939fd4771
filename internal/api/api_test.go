package api

import (
	"context"
	"errors"
	"testing"

	"github.com/handleui/branchflow/internal/config"
	"github.com/handleui/branchflow/internal/engine"
	"github.com/handleui/branchflow/internal/model"
	"github.com/handleui/branchflow/internal/workerpool"
)

type instantExecutor struct{}

func (instantExecutor) Execute(ctx context.Context, job *model.Job, sink workerpool.ProgressSink) workerpool.Result {
	sink(1.0, nil, nil)
	return workerpool.Result{Status: model.JobSucceeded, ResultPath: "/out/" + job.JobID}
}

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	dispatch := workerpool.Dispatch{model.JobTypeCellSegmentation: instantExecutor{}}
	eng := engine.New(engine.Config{MaxWorkers: 4, MailboxSize: 8}, dispatch)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	return New(eng, cfg)
}

func TestSubmitWorkflowRequiresTenant(t *testing.T) {
	s := newTestService(t, nil)
	_, err := s.SubmitWorkflow(context.Background(), "", WorkflowSpec{Jobs: []JobSpec{{JobID: "a", JobType: "cell_segmentation", Branch: "main", ImagePath: "/x"}}})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != ErrKindTenantMissing {
		t.Fatalf("err = %v, want tenant_missing", err)
	}
}

func TestSubmitWorkflowGeneratesIDWhenOmitted(t *testing.T) {
	s := newTestService(t, nil)
	wf, err := s.SubmitWorkflow(context.Background(), "t1", WorkflowSpec{
		Jobs: []JobSpec{{JobID: "a", JobType: "cell_segmentation", Branch: "main", ImagePath: "/x"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if wf.WorkflowID == "" {
		t.Fatal("expected a generated workflow_id")
	}
}

func TestSubmitWorkflowRejectsDisallowedImagePath(t *testing.T) {
	cfg := &config.Config{ImagePathAllowlist: []string{"/data/**"}}
	s := newTestService(t, cfg)
	_, err := s.SubmitWorkflow(context.Background(), "t1", WorkflowSpec{
		WorkflowID: "w1",
		Jobs:       []JobSpec{{JobID: "a", JobType: "cell_segmentation", Branch: "main", ImagePath: "/etc/passwd"}},
	})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != ErrKindImagePathDenied {
		t.Fatalf("err = %v, want image_path_denied", err)
	}
}

func TestGetWorkflowDeniesOtherTenant(t *testing.T) {
	s := newTestService(t, nil)
	wf, err := s.SubmitWorkflow(context.Background(), "t1", WorkflowSpec{
		WorkflowID: "w2",
		Jobs:       []JobSpec{{JobID: "a", JobType: "cell_segmentation", Branch: "main", ImagePath: "/x"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := s.GetWorkflow("t2", wf.WorkflowID); err == nil {
		t.Fatal("expected cross-tenant read to be denied")
	}
	if _, err := s.GetWorkflow("t1", wf.WorkflowID); err != nil {
		t.Fatalf("owning tenant read failed: %v", err)
	}
}

func TestSubmitWorkflowRejectsDuplicateID(t *testing.T) {
	s := newTestService(t, nil)
	spec := WorkflowSpec{WorkflowID: "dup", Jobs: []JobSpec{{JobID: "a", JobType: "cell_segmentation", Branch: "main", ImagePath: "/x"}}}
	if _, err := s.SubmitWorkflow(context.Background(), "t1", spec); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := s.SubmitWorkflow(context.Background(), "t1", spec)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != ErrKindDuplicateWorkflow {
		t.Fatalf("err = %v, want duplicate_workflow_id", err)
	}
}
