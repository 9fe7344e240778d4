package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// session is a short-lived connection scope for one connector call.
type session struct {
	transport *http.Transport
	client    *http.Client
	token     string
}

func newSession(timeout time.Duration, token string) *session {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &session{
		transport: transport,
		client:    &http.Client{Transport: transport, Timeout: timeout},
		token:     token,
	}
}

func (s *session) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return s.client.Do(req)
}

// Close releases the session's connections.
func (s *session) Close() {
	s.transport.CloseIdleConnections()
}

// classify turns a non-success response into a connector error: 4xx is a
// business refusal, anything else a transport failure.
func classify(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return businessError(op, err)
	}
	return transportError(op, err)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.code, e.body)
}
