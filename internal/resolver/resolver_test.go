package resolver

import (
	"reflect"
	"sort"
	"testing"

	"github.com/handleui/branchflow/internal/model"
)

func job(id string, deps ...string) *model.Job {
	return &model.Job{JobID: id, DependsOn: deps}
}

func TestRegisterReturnsOnlyZeroInDegreeJobs(t *testing.T) {
	r := New()
	wf := &model.Workflow{WorkflowID: "w1", Jobs: []*model.Job{
		job("a"),
		job("b", "a"),
		job("c", "a", "b"),
	}}

	ready := r.Register(wf)
	if !reflect.DeepEqual(ready, []string{"a"}) {
		t.Fatalf("Register ready = %v, want [a]", ready)
	}
}

func TestOnSucceededPromotesNextJobs(t *testing.T) {
	r := New()
	wf := &model.Workflow{WorkflowID: "w1", Jobs: []*model.Job{
		job("a"),
		job("b", "a"),
		job("c", "a", "b"),
	}}
	r.Register(wf)

	ready := r.OnSucceeded("w1", "a")
	if !reflect.DeepEqual(ready, []string{"b"}) {
		t.Fatalf("after a succeeds, ready = %v, want [b]", ready)
	}

	ready = r.OnSucceeded("w1", "b")
	if !reflect.DeepEqual(ready, []string{"c"}) {
		t.Fatalf("after b succeeds, ready = %v, want [c]", ready)
	}
}

func TestDependentsTransitiveAndDeduplicated(t *testing.T) {
	r := New()
	wf := &model.Workflow{WorkflowID: "w1", Jobs: []*model.Job{
		job("a"),
		job("b", "a"),
		job("c", "b"),
		job("d", "b", "c"),
	}}
	r.Register(wf)

	got := r.Dependents("w1", "a")
	sort.Strings(got)
	want := []string{"b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Dependents(a) = %v, want %v", got, want)
	}
}

func TestDiamondDependencyWaitsForBothParents(t *testing.T) {
	r := New()
	wf := &model.Workflow{WorkflowID: "w1", Jobs: []*model.Job{
		job("a"),
		job("b", "a"),
		job("c", "a"),
		job("d", "b", "c"),
	}}
	r.Register(wf)

	if ready := r.OnSucceeded("w1", "a"); len(ready) != 2 {
		t.Fatalf("after a, ready = %v, want [b c]", ready)
	}
	if ready := r.OnSucceeded("w1", "b"); len(ready) != 0 {
		t.Fatalf("after only b, d must not be ready: got %v", ready)
	}
	ready := r.OnSucceeded("w1", "c")
	if !reflect.DeepEqual(ready, []string{"d"}) {
		t.Fatalf("after both parents, ready = %v, want [d]", ready)
	}
}
