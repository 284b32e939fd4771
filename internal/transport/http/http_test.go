package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/handleui/branchflow/internal/admission"
	"github.com/handleui/branchflow/internal/api"
	"github.com/handleui/branchflow/internal/branchqueue"
	"github.com/handleui/branchflow/internal/config"
	"github.com/handleui/branchflow/internal/engine"
	"github.com/handleui/branchflow/internal/metrics"
	"github.com/handleui/branchflow/internal/model"
	"github.com/handleui/branchflow/internal/registry"
	"github.com/handleui/branchflow/internal/workerpool"
)

type instantExecutor struct{}

func (instantExecutor) Execute(ctx context.Context, job *model.Job, sink workerpool.ProgressSink) workerpool.Result {
	sink(1.0, nil, nil)
	return workerpool.Result{Status: model.JobSucceeded, ResultPath: "/out/" + job.JobID}
}

type fakeSubscription struct{}

func (fakeSubscription) Notify() <-chan struct{} { return nil }
func (fakeSubscription) Drain() []any            { return nil }
func (fakeSubscription) Close()                  {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dispatch := workerpool.Dispatch{model.JobTypeCellSegmentation: instantExecutor{}}
	eng := engine.New(engine.Config{MaxWorkers: 4, MailboxSize: 8}, dispatch)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	adm := admission.New(0)
	q := branchqueue.New()
	mv := metrics.New(registry.New(), adm, q, 0, 4)

	svc := api.New(eng, &config.Config{})
	return New(svc, mv, func(tenantID string) Subscription { return fakeSubscription{} })
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSubmitWorkflowReturns201AndBody(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{
		"jobs": []map[string]any{
			{"job_id": "a", "job_type": "cell_segmentation", "branch": "main", "image_path": "/x"},
		},
	}
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/workflows", bytes.NewReader(buf))
	req.Header.Set(tenantHeader, "t1")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	var wf model.Workflow
	if err := json.Unmarshal(rec.Body.Bytes(), &wf); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if wf.WorkflowID == "" {
		t.Fatal("expected a generated workflow_id")
	}
}

func TestSubmitWorkflowMissingTenantReturns400(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{
		"jobs": []map[string]any{
			{"job_id": "a", "job_type": "cell_segmentation", "branch": "main", "image_path": "/x"},
		},
	}
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/workflows", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetUnknownWorkflowReturns404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/workflows/does-not-exist", nil)
	req.Header.Set(tenantHeader, "t1")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
}

func TestDashboardEndpointReturnsSnapshot(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics/dashboard", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestSubmitWorkflowAcceptsYAMLBody(t *testing.T) {
	s := newTestServer(t)

	body := "jobs:\n  - job_id: a\n    job_type: cell_segmentation\n    branch: main\n    image_path: /x\n"
	req := httptest.NewRequest(http.MethodPost, "/api/workflows", bytes.NewReader([]byte(body)))
	req.Header.Set(tenantHeader, "t1")
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	var wf model.Workflow
	if err := json.Unmarshal(rec.Body.Bytes(), &wf); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(wf.Jobs) != 1 || wf.Jobs[0].JobID != "a" {
		t.Fatalf("unexpected decoded workflow: %+v", wf)
	}
}

func TestGetJobResultsUnknownJobReturns404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/does-not-exist/results", nil)
	req.Header.Set(tenantHeader, "t1")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
}

func TestStatusForMapsErrorKinds(t *testing.T) {
	cases := map[api.ErrorKind]int{
		api.ErrKindTenantMissing:     http.StatusBadRequest,
		api.ErrKindValidation:        http.StatusBadRequest,
		api.ErrKindImagePathDenied:   http.StatusBadRequest,
		api.ErrKindDuplicateWorkflow: http.StatusConflict,
		api.ErrKindAdmissionRejected: http.StatusTooManyRequests,
		api.ErrKindNotFound:          http.StatusNotFound,
		api.ErrKindNotCancellable:    http.StatusUnprocessableEntity,
		api.ErrKindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", kind, got, want)
		}
	}
}
