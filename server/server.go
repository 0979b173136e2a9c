// Package server exposes a minimal read-only HTTP surface over the
// orchestration core for operators: job status, last error, and the
// tail of a job's tool-execution trace. It never mutates orchestrator
// state — all writes happen through JobRunner.Step and the agent loops.
// Grounded in the teacher's pkg/transport/http_metrics_middleware.go
// chi.RouteContext/metrics-middleware idiom, generalized from an
// A2A-protocol surface to this system's own status endpoints.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/orchestrator/metrics"
	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/store"
)

// TraceTailLimit bounds how many trailing trace records /jobs/{id}
// returns, so a long-running job's status response stays small.
const TraceTailLimit = 20

// Server is the read-only job-status HTTP surface.
type Server struct {
	jobs    store.JobStore
	metrics *metrics.Registry
	router  chi.Router
}

// New constructs a Server wired to jobs (for status reads) and an
// optional metrics Registry (nil is safe — see metrics.Registry's
// nil-receiver methods).
func New(jobs store.JobStore, reg *metrics.Registry) *Server {
	s := &Server{jobs: jobs, metrics: reg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/jobs/{jobID}", s.handleGetJob)
	r.Get("/jobs", s.handleListJobs)
	r.Handle("/metrics", reg.Handler())

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// JobStatusView is the wire shape of a single job's status response —
// intentionally narrower than model.Job: no AgentState internals, no
// pending tool-call bookkeeping, only what §7's "user-visible failure
// behavior" calls out (job.status, lastError, reports tail, trace tail).
type JobStatusView struct {
	JobID        string                  `json:"jobId"`
	Status       model.JobStatus         `json:"status"`
	Stage        model.Stage             `json:"stage"`
	RuntimeState model.RuntimeStatus     `json:"runtimeStatus"`
	LastError    *model.LastError        `json:"lastError,omitempty"`
	Reports      []model.Report          `json:"reports,omitempty"`
	TraceTail    []model.ToolTraceRecord `json:"traceTail,omitempty"`
	UpdatedAt    time.Time               `json:"updatedAt"`
}

func toJobStatusView(job *model.Job) JobStatusView {
	view := JobStatusView{
		JobID:     job.JobID,
		Status:    job.Status,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Runtime != nil {
		view.Stage = job.Runtime.Stage
		view.RuntimeState = job.Runtime.Status
		view.LastError = job.Runtime.Retry.LastError
	}
	if job.AgentState != nil {
		view.Reports = job.AgentState.Reports
		trace := job.AgentState.ToolExecutionTrace
		if len(trace) > TraceTailLimit {
			trace = trace[len(trace)-TraceTailLimit:]
		}
		view.TraceTail = trace
	}
	return view
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.Load(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toJobStatusView(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.Scan(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	views := make([]JobStatusView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobStatusView(j))
	}
	writeJSON(w, http.StatusOK, views)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// metricsMiddleware records request duration/status via the Registry,
// mirroring the teacher's metricsMiddleware but against this package's
// own Registry rather than a global singleton.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics != nil {
			s.metrics.RecordStep("http:"+r.URL.Path, time.Since(start))
		}
	})
}
