package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// EdgeService is what the opportunity endpoints need.
type EdgeService interface {
	Analytics(ctx context.Context, opportunityID string, windowHours, threshold float64) (domain.EdgeAnalytics, error)
	History(ctx context.Context, opportunityID string, windowHours float64) ([]domain.EdgePoint, error)
}

// OpportunityHandler serves edge analytics per opportunity.
type OpportunityHandler struct {
	edges  EdgeService
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler.
func NewOpportunityHandler(edges EdgeService, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{edges: edges, logger: logger}
}

// Analytics scores the opportunity's edge over a trailing window.
// GET /api/opportunities/{id}/analytics?window_hours=24&threshold=5
func (h *OpportunityHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	window, ok := floatParam(r, "window_hours")
	if !ok {
		writeError(w, r, h.logger, fmt.Errorf("handler: window_hours must be a number: %w", domain.ErrInvalidInput))
		return
	}
	threshold, ok := floatParam(r, "threshold")
	if !ok {
		writeError(w, r, h.logger, fmt.Errorf("handler: threshold must be a number: %w", domain.ErrInvalidInput))
		return
	}
	a, err := h.edges.Analytics(r.Context(), r.PathValue("id"), window, threshold)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type historyResponse struct {
	OpportunityID string             `json:"opportunity_id"`
	Points        []domain.EdgePoint `json:"points"`
}

// History returns the opportunity's edge series, oldest first.
// GET /api/opportunities/{id}/history?window_hours=24
func (h *OpportunityHandler) History(w http.ResponseWriter, r *http.Request) {
	window, ok := floatParam(r, "window_hours")
	if !ok {
		writeError(w, r, h.logger, fmt.Errorf("handler: window_hours must be a number: %w", domain.ErrInvalidInput))
		return
	}
	id := r.PathValue("id")
	points, err := h.edges.History(r.Context(), id, window)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if points == nil {
		points = []domain.EdgePoint{}
	}
	writeJSON(w, http.StatusOK, historyResponse{OpportunityID: id, Points: points})
}
