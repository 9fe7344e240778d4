package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/narvanalabs/buildgraph/internal/api/errors"
	"github.com/narvanalabs/buildgraph/internal/api/handlers"
	"github.com/narvanalabs/buildgraph/internal/auth"
	"github.com/narvanalabs/buildgraph/internal/coordinator"
	"github.com/narvanalabs/buildgraph/internal/events"
	"github.com/narvanalabs/buildgraph/internal/metrics"
	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/internal/process"
	"github.com/narvanalabs/buildgraph/internal/release"
	"github.com/narvanalabs/buildgraph/internal/store/memory"
	"github.com/narvanalabs/buildgraph/pkg/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type acceptingExecutor struct {
	mu         sync.Mutex
	dispatched []string
}

func (e *acceptingExecutor) Dispatch(ctx context.Context, req *models.DispatchRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatched = append(e.dispatched, req.TaskID)
	return nil
}

func (e *acceptingExecutor) Cancel(ctx context.Context, taskID string) error { return nil }

type stubConnector struct {
	mu      sync.Mutex
	started []process.Request
}

func (c *stubConnector) StartProcess(ctx context.Context, req process.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, req)
	return nil
}

func (c *stubConnector) CancelByCorrelation(ctx context.Context, correlationID, credential string) error {
	return nil
}

type testServer struct {
	srv    *httptest.Server
	coord  *coordinator.Coordinator
	bus    *events.Bus
	legacy *stubConnector
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := memory.New()
	for id, deps := range map[int][]int{1: nil, 2: {1}, 3: {4}, 4: {3}} {
		require.NoError(t, st.Configurations().Create(ctx, &models.BuildConfiguration{ID: id, Name: "cfg", Dependencies: deps}))
	}
	current := 5
	require.NoError(t, st.Versions().Create(ctx, &models.ProductVersion{ID: 2, Version: "1.0", CurrentMilestoneID: &current}))
	require.NoError(t, st.Milestones().Create(ctx, &models.ProductMilestone{ID: 5, Version: "1.0.0.ER1", ProductVersionID: 2}))

	bus := events.NewBus(64, log)
	t.Cleanup(bus.Close)

	opts := coordinator.DefaultOptions()
	opts.CallbackBaseURL = "http://coordinator.test"
	coord := coordinator.New(st, &acceptingExecutor{}, bus, opts, log)
	t.Cleanup(func() { coord.Close() })

	legacy := &stubConnector{}
	releases, err := release.NewManager(st, bus, []release.Engine{
		{Name: config.EngineREST, Connector: &stubConnector{}, ProcessID: "milestone-release"},
		{Name: config.EngineLegacy, Connector: legacy, ProcessID: "brew-push"},
	}, release.Options{DefaultEngine: config.EngineREST}, log)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg, bus.Dropped, log)

	authSvc := auth.NewService(&auth.Config{JWTSecret: []byte(testSecret), TokenExpiry: time.Hour}, log)
	token, err := authSvc.GenerateToken("alice", "alice@example.com")
	require.NoError(t, err)

	s := NewServer(config.LoadWithDefaults(), Dependencies{
		Coordinator: coord,
		Releases:    releases,
		Bus:         bus,
		Auth:        authSvc,
		Gatherer:    reg,
	}, log)

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	return &testServer{srv: ts, coord: coord, bus: bus, legacy: legacy, token: token}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func taskOf(t *testing.T, set coordinator.SetView, configurationID int) coordinator.TaskView {
	t.Helper()
	for _, task := range set.Tasks {
		if task.ConfigurationID == configurationID {
			return task
		}
	}
	t.Fatalf("no task for configuration %d", configurationID)
	return coordinator.TaskView{}
}

func TestBuildTaskRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/build-tasks", handlers.SubmitRequest{ConfigurationID: 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	set := decode[coordinator.SetView](t, resp)
	require.Len(t, set.Tasks, 2)
	prereq := taskOf(t, set, 1)
	top := taskOf(t, set, 2)
	assert.Equal(t, models.BuildStatusBuilding, prereq.Status)
	assert.Equal(t, models.BuildStatusWaiting, top.Status)
	assert.Equal(t, "alice", top.User)

	resp = ts.do(t, http.MethodPost, "/v1/build-tasks", handlers.SubmitRequest{ConfigurationID: 2})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	conflict := decode[apierrors.APIError](t, resp)
	assert.Equal(t, top.ID, conflict.Details["task_id"])

	resp = ts.do(t, http.MethodGet, "/v1/build-tasks/"+prereq.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/build-tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]coordinator.TaskView](t, resp), 2)

	resp = ts.do(t, http.MethodPost, "/v1/build-tasks/"+prereq.ID+"/completed", models.BuildResult{Status: models.CompletionSuccess})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.BuildStatusSuccess, decode[coordinator.TaskView](t, resp).Status)

	resp = ts.do(t, http.MethodPost, "/v1/build-tasks/"+prereq.ID+"/completed", models.BuildResult{Status: models.CompletionFailed})
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	ts.coord.Wait()
	task, ok := ts.coord.GetSubmittedBuildTask(top.ID)
	require.True(t, ok)
	assert.Equal(t, models.BuildStatusBuilding, task.Status())

	resp = ts.do(t, http.MethodPost, "/v1/build-tasks/"+top.ID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, models.BuildStatusCancelled, decode[coordinator.TaskView](t, resp).Status)

	resp = ts.do(t, http.MethodPost, "/v1/build-tasks/"+top.ID+"/cancel", nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/build-sets/"+set.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[coordinator.SetView](t, resp)
	assert.Equal(t, coordinator.SetStatusDone, view.Status)
	assert.Equal(t, models.BuildStatusCancelled, view.Outcome)
}

func TestBuildTaskErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"cycle", http.MethodPost, "/v1/build-tasks", handlers.SubmitRequest{ConfigurationID: 3}, http.StatusUnprocessableEntity},
		{"unknown configuration", http.MethodPost, "/v1/build-tasks", handlers.SubmitRequest{ConfigurationID: 99}, http.StatusNotFound},
		{"missing configuration", http.MethodPost, "/v1/build-tasks", map[string]any{}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/build-tasks", map[string]any{"configuration_id": 1, "force": true}, http.StatusBadRequest},
		{"bad kind", http.MethodPost, "/v1/build-sets", handlers.SubmitSetRequest{ConfigurationIDs: []int{1}, Kind: "partial"}, http.StatusBadRequest},
		{"empty set", http.MethodPost, "/v1/build-sets", handlers.SubmitSetRequest{}, http.StatusBadRequest},
		{"unknown task", http.MethodGet, "/v1/build-tasks/nope", nil, http.StatusNotFound},
		{"unknown set", http.MethodGet, "/v1/build-sets/nope", nil, http.StatusNotFound},
		{"complete unknown", http.MethodPost, "/v1/build-tasks/nope/completed", models.BuildResult{Status: models.CompletionSuccess}, http.StatusNotFound},
		{"cancel unknown", http.MethodPost, "/v1/build-tasks/nope/cancel", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestBuildSetSubmission(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/build-sets", handlers.SubmitSetRequest{
		ConfigurationIDs: []int{1, 2},
		Kind:             models.KindExecutionOnly,
		TemporaryBuild:   true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	set := decode[coordinator.SetView](t, resp)
	assert.Equal(t, models.KindExecutionOnly, set.Kind)
	assert.True(t, set.TemporaryBuild)
	assert.Len(t, set.Tasks, 2)
}

func TestMilestoneReleaseRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/v1/milestones/5/release", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/milestones/5/release?legacy=true", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	started := decode[models.ProductMilestoneRelease](t, resp)
	assert.Equal(t, models.ReleaseInProgress, started.Status)
	assert.Equal(t, config.EngineLegacy, started.Engine)
	require.Len(t, ts.legacy.started, 1)
	assert.Equal(t, ts.token, ts.legacy.started[0].Credential)

	resp = ts.do(t, http.MethodPost, "/v1/milestones/5/release", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/milestones/5/release", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, started.ID, decode[models.ProductMilestoneRelease](t, resp).ID)

	resp = ts.do(t, http.MethodPost, "/v1/callbacks/milestone-release", models.MilestoneReleaseResult{
		MilestoneID:   5,
		ReleaseStatus: models.ReleaseStatusSuccess,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/milestones/5/release", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/milestones/5/release/latest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	latest := decode[handlers.LatestResponse](t, resp)
	assert.Equal(t, models.ReleaseSucceeded, latest.Release.Status)
	assert.NotNil(t, latest.PushResults)

	resp = ts.do(t, http.MethodPost, "/v1/milestones/5/release/cancel", nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	// A second callback is rejected by the manager but still answered 204.
	resp = ts.do(t, http.MethodPost, "/v1/callbacks/milestone-release", models.MilestoneReleaseResult{
		MilestoneID:   5,
		ReleaseStatus: models.ReleaseStatusFailure,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestMilestoneReleaseErrors(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/milestones/77/release", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/milestones/5/release?legacy=maybe", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/milestones/abc/release", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/v1/milestones/5/release/cancel", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/milestones/5/release/latest", nil).StatusCode)

	resp := ts.do(t, http.MethodPost, "/v1/milestones/5/release", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, "/v1/milestones/5/release/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ReleaseCanceled, decode[models.ProductMilestoneRelease](t, resp).Status)
}

func TestRoutesRequireAuthentication(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.srv.URL+"/v1/build-tasks", "application/json", strings.NewReader(`{"configuration_id":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, ts.coord.ListActive())
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/v1/build-tasks", handlers.SubmitRequest{ConfigurationID: 1})

	resp, err := http.Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "buildgraph_events_dropped")
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/events?types=" + string(events.BuildStatusChanged)
	header := http.Header{"Authorization": []string{"Bearer " + ts.token}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	ts.do(t, http.MethodPost, "/v1/build-tasks", handlers.SubmitRequest{ConfigurationID: 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e events.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, events.BuildStatusChanged, e.Type)
	require.NotNil(t, e.Build)
	assert.Equal(t, models.BuildStatusNew, e.Build.NewStatus)
	assert.Equal(t, 1, e.Build.ConfigurationID)
}

func TestEventStreamRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCallbacksIgnoreUnknownFields(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/milestones/5/release", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/callbacks/milestone-release", map[string]any{
		"milestone_id":   5,
		"release_status": "SUCCESS",
		"engine_version": "7.12",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/milestones/5/release/latest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ReleaseSucceeded, decode[handlers.LatestResponse](t, resp).Release.Status)

	resp = ts.do(t, http.MethodPost, "/v1/build-tasks", handlers.SubmitRequest{ConfigurationID: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	task := taskOf(t, decode[coordinator.SetView](t, resp), 1)

	resp = ts.do(t, http.MethodPost, "/v1/build-tasks/"+task.ID+"/completed", map[string]any{
		"status":      "SUCCESS",
		"duration_ms": 1200,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.BuildStatusSuccess, decode[coordinator.TaskView](t, resp).Status)
}

func TestClientRequestsRejectUnknownFields(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/build-tasks", map[string]any{
		"configuration_id": 1,
		"priority":         "high",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
