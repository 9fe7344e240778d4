package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/narvanalabs/buildgraph/internal/coordinator"
	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/internal/process"
	"github.com/narvanalabs/buildgraph/internal/release"
	"github.com/narvanalabs/buildgraph/internal/validation"
)

// **Structured error response format**
// Any written error carries its code, message and request id, and the HTTP
// status matches the code.
func TestPropertyStructuredErrorResponseFormat(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	genErrorCode := gen.OneConstOf(
		CodeValidationError,
		CodeNotFound,
		CodeUnauthorized,
		CodeInternalError,
		CodeConflict,
		CodeGone,
		CodeUnprocessable,
	)
	genNonEmptyString := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0
	})
	genRequestID := gen.RegexMatch("[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}")

	properties.Property("error response contains required fields", prop.ForAll(
		func(code, message, requestID string) bool {
			err := New(code, message).WithRequestID(requestID)

			rr := httptest.NewRecorder()
			WriteError(rr, err)

			var response APIError
			if jsonErr := json.NewDecoder(rr.Body).Decode(&response); jsonErr != nil {
				return false
			}
			return response.Code == code &&
				response.Message == message &&
				response.RequestID == requestID &&
				rr.Code == err.HTTPStatusCode() &&
				rr.Header().Get("Content-Type") == "application/json"
		},
		genErrorCode,
		genNonEmptyString,
		genRequestID,
	))

	properties.TestingRun(t)
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"conflict", &coordinator.BuildConflictError{ConfigurationID: 3, TaskID: "t-1"}, http.StatusConflict},
		{"cycle", fmt.Errorf("ordering: %w", &validation.CycleError{Path: []int{1, 2, 1}}), http.StatusUnprocessableEntity},
		{"unknown task", coordinator.ErrTaskNotFound, http.StatusNotFound},
		{"unknown configuration", fmt.Errorf("%w: 9", coordinator.ErrConfigurationNotFound), http.StatusNotFound},
		{"unknown milestone", release.ErrMilestoneNotFound, http.StatusNotFound},
		{"no release", release.ErrNoEntity, http.StatusNotFound},
		{"release running", fmt.Errorf("%w: release 4", release.ErrReleaseInProgress), http.StatusConflict},
		{"task done", coordinator.ErrAlreadyCompleted, http.StatusGone},
		{"release done", release.ErrReleaseCompleted, http.StatusGone},
		{"bad request", fmt.Errorf("%w: no configurations", coordinator.ErrInvalidRequest), http.StatusBadRequest},
		{"bad status", fmt.Errorf("%w: completion status %q", models.ErrUnknownStatus, "MAYBE"), http.StatusBadRequest},
		{"expired credential", process.ErrCredentialExpired, http.StatusUnauthorized},
		{"anything else", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, FromError(tt.err).HTTPStatusCode())
		})
	}
}

func TestFromErrorDetails(t *testing.T) {
	apiErr := FromError(&coordinator.BuildConflictError{ConfigurationID: 3, TaskID: "t-1"})
	assert.Equal(t, "t-1", apiErr.Details["task_id"])
	assert.Equal(t, 3, apiErr.Details["configuration_id"])

	apiErr = FromError(&validation.CycleError{Path: []int{1, 2, 1}})
	assert.Equal(t, []int{1, 2, 1}, apiErr.Details["cycle"])

	apiErr = FromError(errors.New("pq: password authentication failed"))
	assert.NotContains(t, apiErr.Message, "password")
}
