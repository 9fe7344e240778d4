package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/narvanalabs/buildgraph/internal/api/middleware"
	"github.com/narvanalabs/buildgraph/internal/models"
	"github.com/narvanalabs/buildgraph/internal/release"
	"github.com/narvanalabs/buildgraph/pkg/config"
	"github.com/narvanalabs/buildgraph/pkg/logger"
)

// ReleaseHandler handles milestone release requests and the workflow
// engine's completion callback.
type ReleaseHandler struct {
	manager *release.Manager
	logger  *slog.Logger
}

// NewReleaseHandler creates a new release handler.
func NewReleaseHandler(m *release.Manager, logger *slog.Logger) *ReleaseHandler {
	return &ReleaseHandler{
		manager: m,
		logger:  logger,
	}
}

// LatestResponse is the body of GET /v1/milestones/{milestoneID}/release/latest.
type LatestResponse struct {
	Release     *models.ProductMilestoneRelease `json:"release"`
	PushResults []*models.BuildRecordPushResult `json:"push_results"`
}

// Start handles POST /v1/milestones/{milestoneID}/release. The optional
// legacy query parameter selects the workflow engine; without it the
// configured default engine is used.
func (h *ReleaseHandler) Start(w http.ResponseWriter, r *http.Request) {
	milestoneID, err := intParam(r, "milestoneID")
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	var engine string
	if v := r.URL.Query().Get("legacy"); v != "" {
		legacy, err := strconv.ParseBool(v)
		if err != nil {
			WriteBadRequest(w, r, "legacy must be a boolean")
			return
		}
		engine = config.EngineREST
		if legacy {
			engine = config.EngineLegacy
		}
	}

	rel, err := h.manager.StartRelease(r.Context(), release.StartRequest{
		MilestoneID: milestoneID,
		Credential:  middleware.GetCredential(r.Context()),
		Engine:      engine,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rel)
}

// Cancel handles POST /v1/milestones/{milestoneID}/release/cancel.
func (h *ReleaseHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	milestoneID, err := intParam(r, "milestoneID")
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	rel, err := h.manager.Cancel(r.Context(), milestoneID, middleware.GetCredential(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rel)
}

// GetInProgress handles GET /v1/milestones/{milestoneID}/release. It answers
// 204 when no release is running.
func (h *ReleaseHandler) GetInProgress(w http.ResponseWriter, r *http.Request) {
	milestoneID, err := intParam(r, "milestoneID")
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	rel, err := h.manager.GetInProgress(r.Context(), milestoneID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if rel == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	WriteJSON(w, http.StatusOK, rel)
}

// Latest handles GET /v1/milestones/{milestoneID}/release/latest.
func (h *ReleaseHandler) Latest(w http.ResponseWriter, r *http.Request) {
	milestoneID, err := intParam(r, "milestoneID")
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	rel, results, err := h.manager.Latest(r.Context(), milestoneID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if results == nil {
		results = []*models.BuildRecordPushResult{}
	}
	WriteJSON(w, http.StatusOK, LatestResponse{Release: rel, PushResults: results})
}

// Callback handles POST /v1/callbacks/milestone-release. The workflow engine
// does not act on our response, so every outcome is logged and answered 204.
func (h *ReleaseHandler) Callback(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.logger)

	var result models.MilestoneReleaseResult
	if err := decodeCallback(w, r, &result); err != nil {
		log.Error("malformed milestone release callback", "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.manager.OnReleaseCompleted(r.Context(), result); err != nil {
		log.Error("milestone release callback not applied",
			"milestone_id", result.MilestoneID,
			"release_status", result.ReleaseStatus,
			"error", err,
		)
	}
	w.WriteHeader(http.StatusNoContent)
}
