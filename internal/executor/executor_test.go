package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/internal/queue"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dispatchRequest(id string) *models.DispatchRequest {
	return &models.DispatchRequest{
		TaskID:        id,
		Configuration: models.BuildConfiguration{ID: 3, Name: "core"},
		Kind:          models.KindRegular,
		CallbackURL:   "http://coordinator/v1/build-tasks/" + id + "/completed",
	}
}

func TestRemoteExecutorDispatch(t *testing.T) {
	var got models.DispatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/execute-build", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e := NewRemoteExecutor(srv.URL+"/", "secret", time.Second, quietLogger())
	req := dispatchRequest("t1")
	require.NoError(t, e.Dispatch(context.Background(), req))
	assert.Equal(t, req.TaskID, got.TaskID)
	assert.Equal(t, req.CallbackURL, got.CallbackURL)
}

func TestRemoteExecutorDispatchErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", status)
	}))
	defer srv.Close()

	e := NewRemoteExecutor(srv.URL, "", time.Second, quietLogger())

	err := e.Dispatch(context.Background(), dispatchRequest("t1"))
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.Temporary())
	assert.Equal(t, "busy", statusErr.Body)

	status = http.StatusBadRequest
	err = e.Dispatch(context.Background(), dispatchRequest("t1"))
	require.ErrorAs(t, err, &statusErr)
	assert.False(t, statusErr.Temporary())
}

func TestRemoteExecutorCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cancel-build/known":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	e := NewRemoteExecutor(srv.URL, "", time.Second, quietLogger())
	assert.NoError(t, e.Cancel(context.Background(), "known"))
	assert.ErrorIs(t, e.Cancel(context.Background(), "other"), ErrUnknownBuild)
}

type recordingCanceller struct {
	mu  sync.Mutex
	ids []string
}

func (c *recordingCanceller) Cancel(ctx context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, taskID)
	return nil
}

func TestRemoteExecutorPing(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	e := NewRemoteExecutor(srv.URL, "", time.Second, quietLogger())
	require.NoError(t, e.Ping(context.Background()))

	healthy = false
	var statusErr *StatusError
	require.ErrorAs(t, e.Ping(context.Background()), &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestQueuedExecutor(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	remote := &recordingCanceller{}
	e := NewQueuedExecutor(q, remote, quietLogger())

	require.NoError(t, e.Dispatch(ctx, dispatchRequest("first")))
	require.NoError(t, e.Dispatch(ctx, dispatchRequest("first")))
	require.NoError(t, e.Dispatch(ctx, dispatchRequest("second")))
	assert.Equal(t, 2, q.Len())

	// A worker takes the oldest request.
	picked, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", picked.TaskID)

	require.NoError(t, e.Cancel(ctx, "second"))
	assert.Empty(t, remote.ids)
	assert.Equal(t, 1, q.Len())

	require.NoError(t, e.Cancel(ctx, "first"))
	assert.Equal(t, []string{"first"}, remote.ids)
}

type scriptedDispatcher struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, req *models.DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.err
}

type recordingReporter struct {
	mu      sync.Mutex
	urls    []string
	results []models.BuildResult
}

func (r *recordingReporter) Report(ctx context.Context, callbackURL string, result models.BuildResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, callbackURL)
	r.results = append(r.results, result)
	return nil
}

func TestWorkerForwardsAndAcks(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	remote := &scriptedDispatcher{}
	reporter := &recordingReporter{}
	w := NewWorker(DefaultWorkerConfig(), q, remote, reporter, quietLogger())

	processed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, q.Enqueue(ctx, dispatchRequest("t1")))
	processed, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, reporter.results)
}

func TestWorkerRetriesTemporaryFailures(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	remote := &scriptedDispatcher{err: errors.New("connection refused")}
	reporter := &recordingReporter{}
	w := NewWorker(&WorkerConfig{Concurrency: 1, MaxAttempts: 3}, q, remote, reporter, quietLogger())

	require.NoError(t, q.Enqueue(ctx, dispatchRequest("t1")))
	processed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, q.Len(), "request stays queued for a retry")
	assert.Empty(t, reporter.results)
}

func TestWorkerReportsSystemErrorWhenOutOfAttempts(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	remote := &scriptedDispatcher{err: errors.New("connection refused")}
	reporter := &recordingReporter{}
	w := NewWorker(&WorkerConfig{Concurrency: 1, MaxAttempts: 1}, q, remote, reporter, quietLogger())

	req := dispatchRequest("t1")
	require.NoError(t, q.Enqueue(ctx, req))
	_, err := w.ProcessNext(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, q.Len())
	require.Len(t, reporter.results, 1)
	assert.Equal(t, req.CallbackURL, reporter.urls[0])
	assert.Equal(t, models.CompletionSystemError, reporter.results[0].Status)
	assert.Contains(t, reporter.results[0].Message, "connection refused")
}

func TestWorkerDoesNotRetryRejectedRequests(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	remote := &scriptedDispatcher{err: &StatusError{Op: "dispatching", StatusCode: http.StatusBadRequest}}
	reporter := &recordingReporter{}
	w := NewWorker(DefaultWorkerConfig(), q, remote, reporter, quietLogger())

	require.NoError(t, q.Enqueue(ctx, dispatchRequest("t1")))
	_, err := w.ProcessNext(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, 0, q.Len())
	require.Len(t, reporter.results, 1)
}

func TestCompletionReporter(t *testing.T) {
	var got models.BuildResult
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	r := NewCompletionReporter("", time.Second)
	result := models.BuildResult{Status: models.CompletionSystemError, Message: "gave up"}
	require.NoError(t, r.Report(context.Background(), srv.URL+"/v1/build-tasks/t1/completed", result))
	assert.Equal(t, result, got)

	status = http.StatusGone
	assert.NoError(t, r.Report(context.Background(), srv.URL, result))

	status = http.StatusInternalServerError
	assert.Error(t, r.Report(context.Background(), srv.URL, result))
}

func TestCompletionReporterTokenSource(t *testing.T) {
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := 0
	r := NewCompletionReporter("static", time.Second).WithTokenSource(func() (string, error) {
		n++
		if n > 2 {
			return "", errors.New("signing failed")
		}
		return "minted-" + string(rune('0'+n)), nil
	})
	result := models.BuildResult{Status: models.CompletionSystemError}
	require.NoError(t, r.Report(context.Background(), srv.URL, result))
	require.NoError(t, r.Report(context.Background(), srv.URL, result))
	assert.Error(t, r.Report(context.Background(), srv.URL, result))
	assert.Equal(t, []string{"Bearer minted-1", "Bearer minted-2"}, auths)
}

func TestWorkerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewMemoryQueue()
	remote := &scriptedDispatcher{}
	w := NewWorker(&WorkerConfig{Concurrency: 2, MaxAttempts: 1, PollInterval: 10 * time.Millisecond}, q, remote, &recordingReporter{}, quietLogger())
	w.Start(ctx)

	require.NoError(t, q.Enqueue(ctx, dispatchRequest("t1")))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()
}
