package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// Triggerer requests an out-of-schedule pipeline run.
type Triggerer interface {
	Trigger() bool
}

// PipelineHandler serves run history and the manual trigger.
type PipelineHandler struct {
	runs    domain.RunStore
	trigger Triggerer // nil when no pipeline loop runs in this process
	logger  *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler. trigger may be nil.
func NewPipelineHandler(runs domain.RunStore, trigger Triggerer, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{runs: runs, trigger: trigger, logger: logger}
}

type listRunsResponse struct {
	Runs  []domain.PipelineRun `json:"runs"`
	Limit int                  `json:"limit"`
}

// ListRuns returns the most recent runs, newest first.
// GET /api/pipeline/runs?limit=20
func (h *PipelineHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	runs, err := h.runs.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if runs == nil {
		runs = []domain.PipelineRun{}
	}
	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs, Limit: opts.Limit})
}

// GetRun returns one run with its stage reports.
// GET /api/pipeline/runs/{id}
func (h *PipelineHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// TriggerPipeline enqueues one pipeline run. A trigger that is already
// pending is not queued twice.
// POST /api/pipeline/trigger
func (h *PipelineHandler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		WriteError(w, http.StatusServiceUnavailable, domain.KindConfiguration, "pipeline is not running in this process")
		return
	}
	queued := h.trigger.Trigger()
	h.logger.InfoContext(r.Context(), "handler: pipeline trigger requested", slog.Bool("queued", queued))

	status := "accepted"
	if !queued {
		status = "already_pending"
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       status,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
