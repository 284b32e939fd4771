package engine

import (
	"testing"

	"github.com/handleui/branchflow/internal/model"
)

func job(id, branch string, deps ...string) *model.Job {
	return &model.Job{JobID: id, JobType: model.JobTypeCellSegmentation, Branch: branch, ImagePath: "/img/a", DependsOn: deps}
}

func TestValidateRejectsEmptyWorkflow(t *testing.T) {
	wf := &model.Workflow{WorkflowID: "w1", TenantID: "t1"}
	if err := validateStructure(wf); err == nil {
		t.Fatal("expected error for workflow with no jobs")
	}
}

func TestValidateRejectsDuplicateJobID(t *testing.T) {
	wf := &model.Workflow{WorkflowID: "w1", TenantID: "t1", Jobs: []*model.Job{job("a", "main"), job("a", "main")}}
	if err := validateStructure(wf); err == nil {
		t.Fatal("expected error for duplicate job_id")
	}
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	wf := &model.Workflow{WorkflowID: "w1", TenantID: "t1", Jobs: []*model.Job{job("a", "main", "ghost")}}
	if err := validateStructure(wf); err == nil {
		t.Fatal("expected error for unknown depends_on target")
	}
}

func TestValidateRejectsUnsupportedJobType(t *testing.T) {
	j := job("a", "main")
	j.JobType = "not_a_real_type"
	wf := &model.Workflow{WorkflowID: "w1", TenantID: "t1", Jobs: []*model.Job{j}}
	if err := validateStructure(wf); err == nil {
		t.Fatal("expected error for unsupported job_type")
	}
}

func TestValidateDetectsDirectCycle(t *testing.T) {
	wf := &model.Workflow{WorkflowID: "w1", TenantID: "t1", Jobs: []*model.Job{
		job("a", "main", "b"),
		job("b", "main", "a"),
	}}
	if err := validateStructure(wf); err == nil {
		t.Fatal("expected error for a<->b cycle")
	}
}

func TestValidateDetectsLongerCycle(t *testing.T) {
	wf := &model.Workflow{WorkflowID: "w1", TenantID: "t1", Jobs: []*model.Job{
		job("a", "main", "c"),
		job("b", "main", "a"),
		job("c", "main", "b"),
	}}
	if err := validateStructure(wf); err == nil {
		t.Fatal("expected error for a->c->b->a cycle")
	}
}

func TestValidateAcceptsDiamondDAG(t *testing.T) {
	wf := &model.Workflow{WorkflowID: "w1", TenantID: "t1", Jobs: []*model.Job{
		job("a", "main"),
		job("b", "main", "a"),
		job("c", "main", "a"),
		job("d", "main", "b", "c"),
	}}
	if err := validateStructure(wf); err != nil {
		t.Fatalf("valid diamond DAG rejected: %v", err)
	}
}
