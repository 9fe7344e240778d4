package process

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LegacyConnector drives the older process-instance endpoint, which takes the
// process id and correlation id in the request body.
type LegacyConnector struct {
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewLegacyConnector creates a connector for the legacy engine at baseURL.
func NewLegacyConnector(baseURL string, timeout time.Duration, logger *slog.Logger) *LegacyConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LegacyConnector{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger.With("component", "legacy_connector"),
		now:     time.Now,
	}
}

type legacyStartRequest struct {
	ProcessID     string          `json:"process_id"`
	CorrelationID string          `json:"correlation_id"`
	Parameters    json.RawMessage `json:"parameters"`
}

// StartProcess posts a new process instance.
func (c *LegacyConnector) StartProcess(ctx context.Context, req Request) error {
	const op = "start process"
	if err := checkCredential(req.Credential, c.now()); err != nil {
		return businessError(op, err)
	}
	params, err := encodeParameters(req.Parameters)
	if err != nil {
		return businessError(op, err)
	}
	body, err := json.Marshal(legacyStartRequest{
		ProcessID:     req.ProcessID,
		CorrelationID: req.CorrelationID,
		Parameters:    params,
	})
	if err != nil {
		return businessError(op, err)
	}

	s := newSession(c.timeout, req.Credential)
	defer s.Close()

	resp, err := s.do(ctx, http.MethodPost, c.baseURL+"/process-instances", body)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return classify(op, resp)
	}
	c.logger.Info("process started", "process_id", req.ProcessID, "correlation_id", req.CorrelationID)
	return nil
}

// CancelByCorrelation cancels the active task bound to the correlation id.
func (c *LegacyConnector) CancelByCorrelation(ctx context.Context, correlationID, credential string) error {
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

	target := c.baseURL + "/process-instances/cancel?correlation_id=" + url.QueryEscape(correlationID)
	resp, err := s.do(ctx, http.MethodPost, target, nil)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		c.logger.Info("process cancelled", "correlation_id", correlationID, "release_id", releaseID)
		return nil
	case http.StatusNotFound:
		c.logger.Info("no process instance to cancel", "correlation_id", correlationID, "release_id", releaseID)
		return nil
	default:
		return classify(op, resp)
	}
}
