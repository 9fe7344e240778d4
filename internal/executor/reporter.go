package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/narvanalabs/buildgraph/internal/models"
)

// CompletionReporter posts a build result to a task's callback URL. The
// dispatcher uses it to report builds the executor never accepted.
type CompletionReporter struct {
	token  string
	source func() (string, error)
	hc     *http.Client
}

// NewCompletionReporter creates a reporter authenticating with token.
func NewCompletionReporter(token string, timeout time.Duration) *CompletionReporter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CompletionReporter{token: token, hc: &http.Client{Timeout: timeout}}
}

// WithTokenSource makes the reporter mint a fresh token for every report.
func (r *CompletionReporter) WithTokenSource(source func() (string, error)) *CompletionReporter {
	r.source = source
	return r
}

// Report posts result to callbackURL. 410 Gone means the task already
// completed and is not an error.
func (r *CompletionReporter) Report(ctx context.Context, callbackURL string, result models.BuildResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling build result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	token := r.token
	if r.source != nil {
		if token, err = r.source(); err != nil {
			return fmt.Errorf("issuing callback token: %w", err)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.hc.Do(req)
	if err != nil {
		return fmt.Errorf("reporting build result: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent, http.StatusGone:
		return nil
	default:
		return statusError("reporting build result", resp)
	}
}
