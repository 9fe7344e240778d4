// Package executor contains the clients the coordinator uses to hand builds
// to the external build executor.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/narvanalabs/buildgraph/internal/models"
)

// ErrUnknownBuild is returned by Cancel when the executor does not know the build.
var ErrUnknownBuild = errors.New("build unknown to executor")

// StatusError is returned when the executor answers with an unexpected status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status code: %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status code: %d: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// RemoteExecutor talks to the build executor over HTTP.
type RemoteExecutor struct {
	baseURL string
	token   string
	hc      *http.Client
	logger  *slog.Logger
}

// NewRemoteExecutor creates a client for the executor at baseURL. token, when
// set, is sent as a bearer token.
func NewRemoteExecutor(baseURL, token string, timeout time.Duration, logger *slog.Logger) *RemoteExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: timeout},
		logger:  logger.With("component", "remote_executor"),
	}
}

// Dispatch posts the request to /execute-build.
func (e *RemoteExecutor) Dispatch(ctx context.Context, req *models.DispatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling dispatch request: %w", err)
	}

	resp, err := e.post(ctx, e.baseURL+"/execute-build", body)
	if err != nil {
		return fmt.Errorf("dispatching build %s: %w", req.TaskID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return statusError("dispatching build "+req.TaskID, resp)
	}

	e.logger.Debug("build accepted by executor", "task_id", req.TaskID)
	return nil
}

// Cancel posts to /cancel-build/{id}.
func (e *RemoteExecutor) Cancel(ctx context.Context, taskID string) error {
	resp, err := e.post(ctx, e.baseURL+"/cancel-build/"+url.PathEscape(taskID), nil)
	if err != nil {
		return fmt.Errorf("cancelling build %s: %w", taskID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrUnknownBuild
	default:
		return statusError("cancelling build "+taskID, resp)
	}
}

// Ping checks that the executor answers on /health.
func (e *RemoteExecutor) Ping(ctx context.Context) error {
	resp, err := e.do(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("pinging executor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError("pinging executor", resp)
	}
	return nil
}

func (e *RemoteExecutor) post(ctx context.Context, target string, body []byte) (*http.Response, error) {
	return e.do(ctx, http.MethodPost, target, body)
}

func (e *RemoteExecutor) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	return e.hc.Do(req)
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
