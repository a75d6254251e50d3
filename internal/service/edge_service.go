package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/edge"
)

// EdgeService records positive edges into the append-only history and
// serves per-opportunity analytics over it.
type EdgeService struct {
	edges  domain.EdgeStore
	scorer *edge.Scorer
	now    func() time.Time
	logger *slog.Logger
}

// NewEdgeService creates an EdgeService.
func NewEdgeService(edges domain.EdgeStore, scorer *edge.Scorer, logger *slog.Logger) *EdgeService {
	if scorer == nil {
		scorer = edge.NewScorer(edge.DefaultWeights(), edge.DefaultRules())
	}
	return &EdgeService{
		edges:  edges,
		scorer: scorer,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the clock that anchors analytics windows.
func (s *EdgeService) WithClock(now func() time.Time) *EdgeService {
	s.now = now
	return s
}

// AppendObservation records ev's edge at ts when it is positive. The bool
// reports whether anything was written.
func (s *EdgeService) AppendObservation(ctx context.Context, runID string, ev domain.MatchedEvent, ts time.Time) (domain.EdgeObservation, bool, error) {
	obs, ok := edge.Observe(runID, ev, ts)
	if !ok {
		return domain.EdgeObservation{}, false, nil
	}
	if err := s.edges.AppendBatch(ctx, []domain.EdgeObservation{obs}); err != nil {
		return domain.EdgeObservation{}, false, fmt.Errorf("edge_service: append %s: %w", ev.OpportunityID, err)
	}
	return obs, true, nil
}

// RecordRun builds observations for every event with a positive edge and
// appends them in one batch. It returns what was written.
func (s *EdgeService) RecordRun(ctx context.Context, runID string, events []domain.MatchedEvent, ts time.Time) ([]domain.EdgeObservation, error) {
	var batch []domain.EdgeObservation
	for _, ev := range events {
		if obs, ok := edge.Observe(runID, ev, ts); ok {
			batch = append(batch, obs)
		}
	}
	if len(batch) == 0 {
		return nil, nil
	}
	if err := s.edges.AppendBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("edge_service: record run %s: %w", runID, err)
	}
	s.logger.InfoContext(ctx, "edge_service: observations recorded",
		slog.String("run_id", runID),
		slog.Int("events", len(events)),
		slog.Int("recorded", len(batch)),
	)
	return batch, nil
}

// Analytics aggregates an opportunity's observations over the trailing
// window. Zero window or threshold select the defaults.
func (s *EdgeService) Analytics(ctx context.Context, opportunityID string, windowHours, threshold float64) (domain.EdgeAnalytics, error) {
	windowHours, threshold, err := resolveWindow(opportunityID, windowHours, threshold)
	if err != nil {
		return domain.EdgeAnalytics{}, err
	}
	now := s.now()
	obs, err := s.edges.ListWindow(ctx, opportunityID, edge.WindowStart(now, windowHours), now)
	if err != nil {
		return domain.EdgeAnalytics{}, fmt.Errorf("edge_service: analytics %s: %w", opportunityID, err)
	}
	return s.scorer.Analyze(opportunityID, obs, windowHours, threshold, now), nil
}

// History returns the opportunity's edge series over the trailing window,
// oldest first.
func (s *EdgeService) History(ctx context.Context, opportunityID string, windowHours float64) ([]domain.EdgePoint, error) {
	windowHours, _, err := resolveWindow(opportunityID, windowHours, edge.DefaultThreshold)
	if err != nil {
		return nil, err
	}
	now := s.now()
	obs, err := s.edges.ListWindow(ctx, opportunityID, edge.WindowStart(now, windowHours), now)
	if err != nil {
		return nil, fmt.Errorf("edge_service: history %s: %w", opportunityID, err)
	}
	return edge.Series(obs, windowHours, now), nil
}

// Recent returns observations made since the given time, oldest first.
func (s *EdgeService) Recent(ctx context.Context, since time.Time, limit int) ([]domain.EdgeObservation, error) {
	obs, err := s.edges.ListSince(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("edge_service: recent: %w", err)
	}
	return obs, nil
}

func resolveWindow(opportunityID string, windowHours, threshold float64) (float64, float64, error) {
	if opportunityID == "" {
		return 0, 0, fmt.Errorf("edge_service: opportunity id is required: %w", domain.ErrInvalidInput)
	}
	if math.IsNaN(windowHours) || windowHours < 0 || windowHours > edge.MaxWindowHours {
		return 0, 0, fmt.Errorf("edge_service: window_hours %v: %w", windowHours, domain.ErrInvalidInput)
	}
	if math.IsNaN(threshold) || threshold < 0 || math.IsInf(threshold, 0) {
		return 0, 0, fmt.Errorf("edge_service: threshold %v: %w", threshold, domain.ErrInvalidInput)
	}
	if windowHours == 0 {
		windowHours = edge.DefaultWindowHours
	}
	if threshold == 0 {
		threshold = edge.DefaultThreshold
	}
	return windowHours, threshold, nil
}
