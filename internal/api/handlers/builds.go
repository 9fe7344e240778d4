package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/narvanalabs/buildgraph/internal/api/middleware"
	"github.com/narvanalabs/buildgraph/internal/coordinator"
	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/pkg/logger"
)

// BuildHandler handles build task and build set requests.
type BuildHandler struct {
	coordinator *coordinator.Coordinator
	logger      *slog.Logger
}

// NewBuildHandler creates a new build handler.
func NewBuildHandler(c *coordinator.Coordinator, logger *slog.Logger) *BuildHandler {
	return &BuildHandler{
		coordinator: c,
		logger:      logger,
	}
}

// SubmitRequest is the body of POST /v1/build-tasks.
type SubmitRequest struct {
	ConfigurationID int                       `json:"configuration_id"`
	Kind            models.BuildExecutionKind `json:"kind,omitempty"`
	TemporaryBuild  bool                      `json:"temporary_build"`
	Rebuild         coordinator.RebuildMode   `json:"rebuild,omitempty"`
}

// SubmitSetRequest is the body of POST /v1/build-sets.
type SubmitSetRequest struct {
	ConfigurationIDs []int                     `json:"configuration_ids"`
	Kind             models.BuildExecutionKind `json:"kind,omitempty"`
	TemporaryBuild   bool                      `json:"temporary_build"`
	Rebuild          coordinator.RebuildMode   `json:"rebuild,omitempty"`
}

// Submit handles POST /v1/build-tasks - builds one configuration and the
// prerequisites that need it.
func (h *BuildHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	if req.ConfigurationID <= 0 {
		WriteBadRequest(w, r, "configuration_id is required")
		return
	}

	set, err := h.coordinator.Submit(r.Context(), coordinator.SubmitRequest{
		ConfigurationID: req.ConfigurationID,
		User:            middleware.GetUserID(r.Context()),
		Kind:            req.Kind,
		TemporaryBuild:  req.TemporaryBuild,
		Rebuild:         req.Rebuild,
	})
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Info("build submission rejected",
			"configuration_id", req.ConfigurationID, "error", err)
		WriteError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, h.coordinator.ViewSet(set))
}

// SubmitSet handles POST /v1/build-sets.
func (h *BuildHandler) SubmitSet(w http.ResponseWriter, r *http.Request) {
	var req SubmitSetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	set, err := h.coordinator.SubmitSet(r.Context(), coordinator.SubmitSetRequest{
		ConfigurationIDs: req.ConfigurationIDs,
		User:             middleware.GetUserID(r.Context()),
		Kind:             req.Kind,
		TemporaryBuild:   req.TemporaryBuild,
		Rebuild:          req.Rebuild,
	})
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Info("build set submission rejected",
			"configuration_ids", req.ConfigurationIDs, "error", err)
		WriteError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, h.coordinator.ViewSet(set))
}

// List handles GET /v1/build-tasks - lists the tasks that have not completed.
func (h *BuildHandler) List(w http.ResponseWriter, r *http.Request) {
	active := h.coordinator.ListActive()
	views := make([]coordinator.TaskView, 0, len(active))
	for _, t := range active {
		views = append(views, t.View())
	}
	WriteJSON(w, http.StatusOK, views)
}

// Get handles GET /v1/build-tasks/{taskID}.
func (h *BuildHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.coordinator.GetSubmittedBuildTask(chi.URLParam(r, "taskID"))
	if !ok {
		WriteError(w, r, coordinator.ErrTaskNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, t.View())
}

// GetSet handles GET /v1/build-sets/{setID}.
func (h *BuildHandler) GetSet(w http.ResponseWriter, r *http.Request) {
	view, err := h.coordinator.GetSet(chi.URLParam(r, "setID"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// Complete handles POST /v1/build-tasks/{taskID}/completed, the executor's
// completion callback.
func (h *BuildHandler) Complete(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var result models.BuildResult
	if err := decodeCallback(w, r, &result); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	if err := h.coordinator.CompleteBuild(r.Context(), taskID, result); err != nil {
		logger.FromContext(r.Context(), h.logger).Warn("completion not applied",
			"task_id", taskID, "status", result.Status, "error", err)
		WriteError(w, r, err)
		return
	}

	t, ok := h.coordinator.GetSubmittedBuildTask(taskID)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	WriteJSON(w, http.StatusOK, t.View())
}

// Cancel handles POST /v1/build-tasks/{taskID}/cancel.
func (h *BuildHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	if err := h.coordinator.Cancel(r.Context(), taskID); err != nil {
		WriteError(w, r, err)
		return
	}

	logger.FromContext(r.Context(), h.logger).Info("build cancelled by user",
		"task_id", taskID, "user_id", middleware.GetUserID(r.Context()))

	t, ok := h.coordinator.GetSubmittedBuildTask(taskID)
	if !ok {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	WriteJSON(w, http.StatusAccepted, t.View())
}
