// Package http is branchflowd's reference transport (spec.md §4.9/§6): a
// chi-routed REST surface for submit/cancel/list/get plus a
// gorilla/websocket endpoint that streams the event bus to subscribers.
//
// Grounded on jordigilh-kubernaut's go.mod (chi + gorilla/websocket are its
// gateway stack); no source from that repo survived retrieval to imitate
// directly, so the handler shape instead follows the teacher's own
// request/response discipline (typed errors translated to exit codes in
// apps/cli/cmd) adapted to HTTP status codes.
package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-yaml"
	"github.com/gorilla/websocket"

	"github.com/handleui/branchflow/internal/api"
	"github.com/handleui/branchflow/internal/metrics"
)

const tenantHeader = "X-User-ID"

// Server bundles the chi router over a *api.Service and *metrics.View.
type Server struct {
	svc     *api.Service
	metrics *metrics.View
	router  chi.Router
	upgrade websocket.Upgrader
}

// New builds the router. Subscribe is the callback used to register a new
// event-bus subscription per websocket connection (kept as a func rather
// than importing events directly, so this package only depends on what it
// renders over the wire).
func New(svc *api.Service, mv *metrics.View, subscribe SubscribeFunc) *Server {
	s := &Server{svc: svc, metrics: mv, upgrade: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/api/metrics/dashboard", s.handleDashboard)
	r.Post("/api/workflows", s.handleSubmitWorkflow)
	r.Get("/api/workflows", s.handleListWorkflows)
	r.Get("/api/workflows/{workflow_id}", s.handleGetWorkflow)
	r.Get("/api/jobs/{job_id}/results", s.handleGetJobResults)
	r.Delete("/api/jobs/{job_id}", s.handleCancelJob)
	r.Get("/api/progress/ws/{tenant_id}", s.withSubscribe(subscribe))

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	spec, err := decodeWorkflowSpec(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, api.ErrKindValidation, "malformed request body: "+err.Error())
		return
	}

	wf, err := s.svc.SubmitWorkflow(r.Context(), r.Header.Get(tenantHeader), spec)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// decodeWorkflowSpec content-negotiates the create_workflow body on
// Content-Type: a YAML payload (text/yaml, application/yaml, application/x-yaml)
// is parsed with goccy/go-yaml; anything else is parsed as JSON.
func decodeWorkflowSpec(r *http.Request) (api.WorkflowSpec, error) {
	var spec api.WorkflowSpec
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return spec, err
	}

	if isYAMLContentType(r.Header.Get("Content-Type")) {
		err = yaml.Unmarshal(body, &spec)
	} else {
		err = json.Unmarshal(body, &spec)
	}
	return spec, err
}

func isYAMLContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	return mediaType == "text/yaml" || mediaType == "application/yaml" || mediaType == "application/x-yaml"
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(tenantHeader)
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, api.ErrKindTenantMissing, "tenant_id is required")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.ListWorkflows(tenantID))
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(tenantHeader)
	workflowID := chi.URLParam(r, "workflow_id")
	wf, err := s.svc.GetWorkflow(tenantID, workflowID)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleGetJobResults(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(tenantHeader)
	jobID := chi.URLParam(r, "job_id")
	job, err := s.svc.GetJobResults(tenantID, jobID)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(tenantHeader)
	jobID := chi.URLParam(r, "job_id")
	if err := s.svc.CancelJob(r.Context(), tenantID, jobID); err != nil {
		writeAPIErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubscribeFunc registers tenantID on the event bus and returns a handle
// yielding notify/drain/close primitives, without this package depending on
// the events package's concrete types.
type SubscribeFunc func(tenantID string) Subscription

// Subscription is the minimal surface withSubscribe needs.
type Subscription interface {
	Notify() <-chan struct{}
	Drain() []any
	Close()
}

func (s *Server) withSubscribe(subscribe SubscribeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenant_id")
		conn, err := s.upgrade.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sub := subscribe(tenantID)
		defer sub.Close()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Notify():
				for _, ev := range sub.Drain() {
					if err := conn.WriteJSON(ev); err != nil {
						return
					}
				}
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind api.ErrorKind, msg string) {
	writeJSON(w, status, map[string]string{"error": string(kind), "message": msg})
}

func writeAPIErr(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*api.Error)
	if !ok {
		writeError(w, http.StatusInternalServerError, api.ErrKindInternal, err.Error())
		return
	}
	writeError(w, statusFor(apiErr.Kind), apiErr.Kind, apiErr.Message)
}

func statusFor(kind api.ErrorKind) int {
	switch kind {
	case api.ErrKindTenantMissing, api.ErrKindValidation, api.ErrKindImagePathDenied:
		return http.StatusBadRequest
	case api.ErrKindDuplicateWorkflow:
		return http.StatusConflict
	case api.ErrKindAdmissionRejected:
		return http.StatusTooManyRequests
	case api.ErrKindNotFound:
		return http.StatusNotFound
	case api.ErrKindNotCancellable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
