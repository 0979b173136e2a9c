package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestrator/metrics"
	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
	"github.com/kadirpekel/orchestrator/store"
)

func TestServer_HealthZ(t *testing.T) {
	s := New(store.NewMemoryJobStore(), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_GetJob_NotFound(t *testing.T) {
	s := New(store.NewMemoryJobStore(), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetJob_ReturnsStatusView(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	job := model.NewJob("job-1", "tab-1", "fr")
	job.Status = model.JobFailed
	job.Runtime.Stage = model.StageExecution
	job.Runtime.Status = model.RuntimeFailed
	job.Runtime.Retry.LastError = &model.LastError{
		Code: string(orcerr.CodeAgentNoProgress), Message: "no progress",
	}
	job.AgentState.Reports = append(job.AgentState.Reports, model.Report{
		Severity: model.ReportError, Message: "stalled", Ts: 1,
	})
	require.NoError(t, jobs.Save(context.Background(), job))

	s := New(jobs, metrics.New("orchestrator_srv_test"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var view JobStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, model.JobFailed, view.Status)
	assert.Equal(t, model.StageExecution, view.Stage)
	require.NotNil(t, view.LastError)
	assert.Equal(t, string(orcerr.CodeAgentNoProgress), view.LastError.Code)
	require.Len(t, view.Reports, 1)
}

func TestServer_ListJobs(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	require.NoError(t, jobs.Save(context.Background(), model.NewJob("a", "t", "fr")))
	require.NoError(t, jobs.Save(context.Background(), model.NewJob("b", "t", "de")))

	s := New(jobs, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var views []JobStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Len(t, views, 2)
}
