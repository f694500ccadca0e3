package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-flowdesk/internal/api/dto"
	"go-flowdesk/internal/api/handler"
	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/service"
	"go-flowdesk/internal/testsupport"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type api struct {
	t      *testing.T
	router *gin.Engine
}

func newAPI(t *testing.T, svc service.WorkflowService, gatherer prometheus.Gatherer) *api {
	h := handler.NewWorkflowHandler(svc)
	return &api{t: t, router: handler.NewRouter(h, gatherer, testsupport.DiscardLogger())}
}

func (a *api) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	env := testsupport.NewEnv(t)
	a := newAPI(t, env.Service, env.Registry)

	w := a.do(http.MethodPost, "/api/v1/workflows", gin.H{
		"name": "onboarding",
		"steps": []gin.H{
			{"order": 1, "name": "paperwork", "kind": "task", "assignee": "alice"},
			{"order": 2, "name": "sign off", "kind": "approval", "assignee": "bob"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	wf := decode[dto.WorkflowResponse](t, w)

	w = a.do(http.MethodPost, "/api/v1/workflows/"+wf.ID.String()+"/instances", gin.H{"started_by": "admin"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[dto.CreateInstanceResponse](t, w)

	w = a.do(http.MethodGet, "/api/v1/users/alice/assignments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[[]dto.AssignmentResponse](t, w)
	require.Len(t, mine, 1)
	assert.Equal(t, "paperwork", mine[0].StepName)

	w = a.do(http.MethodPost, "/api/v1/assignments/"+mine[0].ID.String()+"/complete", gin.H{"actor": "alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	outcome := decode[dto.OutcomeResponse](t, w)
	assert.Equal(t, service.OutcomeAdvanced, outcome.Status)
	require.NotNil(t, outcome.Next)
	assert.Equal(t, "bob", outcome.Next.AssignedTo)

	// Completing the same assignment again is a noop, not an error.
	w = a.do(http.MethodPost, "/api/v1/assignments/"+mine[0].ID.String()+"/complete", gin.H{"actor": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	noop := decode[dto.OutcomeResponse](t, w)
	assert.Equal(t, service.OutcomeNoop, noop.Status)
	assert.NotEmpty(t, noop.Warning)

	// Steps cannot be replaced while an instance runs on them.
	w = a.do(http.MethodPost, "/api/v1/workflows", gin.H{
		"id":    wf.ID,
		"name":  "onboarding",
		"steps": []gin.H{{"order": 1, "name": "rewritten", "kind": "task", "assignee": "alice"}},
	})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = a.do(http.MethodPost, "/api/v1/instances/"+created.InstanceID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.InstanceCancelled), decode[dto.InstanceResponse](t, w).Status)

	w = a.do(http.MethodGet, "/api/v1/users/bob/assignments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]dto.AssignmentResponse](t, w))

	w = a.do(http.MethodPost, "/api/v1/instances/"+created.InstanceID.String()+"/resume", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatusCodes(t *testing.T) {
	env := testsupport.NewEnv(t)
	a := newAPI(t, env.Service, env.Registry)
	wf, _ := testsupport.SeedWorkflow(t, env.Definitions, "alice")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad uuid", http.MethodGet, "/api/v1/instances/not-a-uuid", nil, http.StatusBadRequest},
		{"unknown instance", http.MethodGet, "/api/v1/instances/" + uuid.NewString(), nil, http.StatusNotFound},
		{"unknown workflow", http.MethodPost, "/api/v1/workflows/" + uuid.NewString() + "/instances", gin.H{"started_by": "admin"}, http.StatusNotFound},
		{"missing started_by", http.MethodPost, "/api/v1/workflows/" + wf.ID.String() + "/instances", gin.H{}, http.StatusBadRequest},
		{"missing actor", http.MethodPost, "/api/v1/assignments/" + uuid.NewString() + "/complete", gin.H{}, http.StatusBadRequest},
		{"unknown assignment", http.MethodPost, "/api/v1/assignments/" + uuid.NewString() + "/complete", gin.H{"actor": "alice"}, http.StatusNotFound},
		{"empty step list", http.MethodPost, "/api/v1/workflows", gin.H{"name": "empty", "steps": []gin.H{}}, http.StatusUnprocessableEntity},
		{"unknown step kind", http.MethodPost, "/api/v1/workflows", gin.H{"name": "x", "steps": []gin.H{{"order": 1, "name": "a", "kind": "teleport"}}}, http.StatusBadRequest},
		{"limit out of range", http.MethodGet, "/api/v1/users/alice/assignments?limit=501", nil, http.StatusBadRequest},
		{"no active instance", http.MethodGet, "/api/v1/workflows/" + wf.ID.String() + "/active-instance", nil, http.StatusNotFound},
		{"unknown definition", http.MethodPost, "/api/v1/definitions/" + uuid.NewString() + "/instantiate", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestDefinitionsAndUnassignedQueue(t *testing.T) {
	env := testsupport.NewEnv(t)
	a := newAPI(t, env.Service, env.Registry)

	w := a.do(http.MethodPost, "/api/v1/definitions", gin.H{
		"name":       "access request",
		"reusable":   true,
		"created_by": "admin",
		"steps": []gin.H{
			{"order": 1, "name": "triage", "kind": "task"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	def := decode[dto.DefinitionResponse](t, w)

	w = a.do(http.MethodPost, "/api/v1/definitions/"+def.ID.String()+"/instantiate", gin.H{"name": "access request 1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	wf := decode[dto.WorkflowResponse](t, w)
	require.NotNil(t, wf.DefinitionID)
	assert.Equal(t, def.ID, *wf.DefinitionID)

	w = a.do(http.MethodPost, "/api/v1/workflows/"+wf.ID.String()+"/instances", gin.H{"started_by": "admin"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = a.do(http.MethodGet, "/api/v1/admin/unassigned", nil)
	require.Equal(t, http.StatusOK, w.Code)
	queue := decode[[]dto.AssignmentResponse](t, w)
	require.Len(t, queue, 1)
	assert.Empty(t, queue[0].AssignedTo)

	w = a.do(http.MethodPost, "/api/v1/assignments/"+queue[0].ID.String()+"/assign", gin.H{"user_id": "dave", "assigned_by": "admin"})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = a.do(http.MethodGet, "/api/v1/users/dave/assignments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]dto.AssignmentResponse](t, w), 1)
}

func TestAdvanceErrorCarriesInstanceID(t *testing.T) {
	instanceID := uuid.New()
	svc := failingService{err: &domain.AdvanceError{
		InstanceID: instanceID,
		StepID:     uuid.New(),
		Kind:       domain.ErrPartialAdvancement,
		Cause:      assert.AnError,
	}}
	a := newAPI(t, svc, nil)

	w := a.do(http.MethodPost, "/api/v1/assignments/"+uuid.NewString()+"/complete", gin.H{"actor": "alice"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, instanceID.String(), body["instance_id"])
}

func TestAdvanceErrorWrappingNotFoundIsServerError(t *testing.T) {
	instanceID := uuid.New()
	svc := failingService{err: &domain.AdvanceError{
		InstanceID: instanceID,
		StepID:     uuid.New(),
		Kind:       domain.ErrPartialAdvancement,
		Cause:      fmt.Errorf("lookup during repair: %w", domain.ErrStepNotFound),
	}}
	a := newAPI(t, svc, nil)

	w := a.do(http.MethodPost, "/api/v1/assignments/"+uuid.NewString()+"/complete", gin.H{"actor": "alice"})
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())
	body := decode[map[string]string](t, w)
	assert.Equal(t, instanceID.String(), body["instance_id"])
}

func TestHealthAndMetrics(t *testing.T) {
	env := testsupport.NewEnv(t)
	a := newAPI(t, env.Service, env.Registry)
	wf, _ := testsupport.SeedWorkflow(t, env.Definitions, "alice")
	_, err := env.Service.StartWorkflow(context.Background(), wf.ID, "admin", nil)
	require.NoError(t, err)

	w := a.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "flowdesk_instances_started_total 1")
}

type failingService struct {
	service.WorkflowService
	err error
}

func (s failingService) CompleteStep(context.Context, uuid.UUID, string, *string) (*service.Outcome, error) {
	return nil, s.err
}
