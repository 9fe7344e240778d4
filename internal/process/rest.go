package process

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTConnector drives a KIE-style process server REST API.
type RESTConnector struct {
	baseURL     string
	containerID string
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewRESTConnector creates a connector for the server at baseURL deploying
// processes in containerID.
func NewRESTConnector(baseURL, containerID string, timeout time.Duration, logger *slog.Logger) *RESTConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTConnector{
		baseURL:     strings.TrimRight(baseURL, "/"),
		containerID: containerID,
		timeout:     timeout,
		logger:      logger.With("component", "rest_connector"),
		now:         time.Now,
	}
}

// StartProcess creates a process instance bound to the correlation key.
func (c *RESTConnector) StartProcess(ctx context.Context, req Request) error {
	const op = "start process"
	if err := checkCredential(req.Credential, c.now()); err != nil {
		return businessError(op, err)
	}
	body, err := encodeParameters(req.Parameters)
	if err != nil {
		return businessError(op, err)
	}

	s := newSession(c.timeout, req.Credential)
	defer s.Close()

	target := fmt.Sprintf("%s/containers/%s/processes/%s/instances/correlation/%s",
		c.baseURL, url.PathEscape(c.containerID), url.PathEscape(req.ProcessID), url.PathEscape(req.CorrelationID))
	resp, err := s.do(ctx, http.MethodPost, target, body)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return classify(op, resp)
	}

	var instanceID int64
	if err := json.NewDecoder(resp.Body).Decode(&instanceID); err != nil {
		c.logger.Warn("process started without a readable instance id", "correlation_id", req.CorrelationID, "error", err)
		return nil
	}
	c.logger.Info("process started", "process_id", req.ProcessID, "correlation_id", req.CorrelationID, "instance_id", instanceID)
	return nil
}

// CancelByCorrelation aborts the process instance with the correlation key.
// An unknown key means there is nothing left to cancel.
func (c *RESTConnector) CancelByCorrelation(ctx context.Context, correlationID, credential string) error {
	const op = "cancel process"
	if err := checkCredential(credential, c.now()); err != nil {
		return businessError(op, err)
	}

	releaseID, err := ParseCorrelationID(correlationID)
	if err != nil {
		return businessError(op, err)
	}

	s := newSession(c.timeout, credential)
	defer s.Close()

	lookup := fmt.Sprintf("%s/queries/processes/instance/correlation/%s", c.baseURL, url.PathEscape(correlationID))
	resp, err := s.do(ctx, http.MethodGet, lookup, nil)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Info("no process instance to cancel", "correlation_id", correlationID, "release_id", releaseID)
		return nil
	case resp.StatusCode != http.StatusOK:
		return classify(op, resp)
	}

	var instance struct {
		ID          int64  `json:"process-instance-id"`
		ContainerID string `json:"container-id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&instance); err != nil {
		return transportError(op, fmt.Errorf("decoding process instance: %w", err))
	}
	container := instance.ContainerID
	if container == "" {
		container = c.containerID
	}

	abort := fmt.Sprintf("%s/containers/%s/processes/instances/%d", c.baseURL, url.PathEscape(container), instance.ID)
	aresp, err := s.do(ctx, http.MethodDelete, abort, nil)
	if err != nil {
		return transportError(op, err)
	}
	defer aresp.Body.Close()

	if aresp.StatusCode != http.StatusNoContent && aresp.StatusCode != http.StatusOK {
		return classify(op, aresp)
	}
	c.logger.Info("process cancelled", "correlation_id", correlationID, "release_id", releaseID, "instance_id", instance.ID)
	return nil
}
