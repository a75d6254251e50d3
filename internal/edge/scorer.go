// Package edge turns per-run arbitrage observations into an append-only edge
// history and scores how persistent and stable an opportunity's edge is.
package edge

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/edgefinder/internal/arbitrage"
	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// Defaults used when a query leaves window or threshold unset.
const (
	DefaultWindowHours = 24.0
	DefaultThreshold   = 5.0
)

// MaxWindowHours bounds the trailing window to ten years, well inside the
// range of time.Duration.
const MaxWindowHours = 10 * 365 * 24.0

// Weights parameterise the composite score:
//
//	score = avg*Average + hours*Duration + (count/CountDivisor)*Count
type Weights struct {
	Average      float64 `toml:"average_weight"`
	Duration     float64 `toml:"duration_weight"`
	Count        float64 `toml:"count_weight"`
	CountDivisor float64 `toml:"count_divisor"`
}

// DefaultWeights returns the production weighting.
func DefaultWeights() Weights {
	return Weights{Average: 0.4, Duration: 0.3, Count: 0.3, CountDivisor: 60}
}

// Rules are the quality thresholds.
type Rules struct {
	PersistentMinutes float64 `toml:"persistent_minutes"`
	PersistentSamples int     `toml:"persistent_samples"`
	StableRange       float64 `toml:"stable_range"` // percentage points
}

// DefaultRules returns the production thresholds.
func DefaultRules() Rules {
	return Rules{PersistentMinutes: 30, PersistentSamples: 3, StableRange: 3.0}
}

// Scorer aggregates edge observations. The zero value is not usable; build
// one with NewScorer.
type Scorer struct {
	weights Weights
	rules   Rules
}

// NewScorer returns a Scorer. A zero CountDivisor falls back to the default.
func NewScorer(w Weights, r Rules) *Scorer {
	if w.CountDivisor <= 0 {
		w.CountDivisor = DefaultWeights().CountDivisor
	}
	return &Scorer{weights: w, rules: r}
}

// Weights returns the scorer's weights.
func (s *Scorer) Weights() Weights { return s.weights }

// Classify maps the two booleans onto exactly one quality label.
func Classify(persistent, stable bool) domain.Quality {
	switch {
	case persistent && stable:
		return domain.QualityStable
	case persistent:
		return domain.QualityPersistent
	case stable:
		return domain.QualityStableShort
	default:
		return domain.QualityNoisy
	}
}

// Analyze aggregates the observations of one opportunity that fall in
// [now-window, now]. Observations outside the window and non-positive edges
// are ignored. No observations yields HasData=false.
func (s *Scorer) Analyze(opportunityID string, obs []domain.EdgeObservation, windowHours, threshold float64, now time.Time) domain.EdgeAnalytics {
	out := domain.EdgeAnalytics{
		OpportunityID: opportunityID,
		WindowHours:   windowHours,
		Threshold:     threshold,
	}
	since := WindowStart(now, windowHours)

	var (
		sum         float64
		first, last time.Time
	)
	for _, o := range obs {
		if o.OpportunityID != opportunityID || o.EdgePercent <= 0 {
			continue
		}
		if o.ObservedAt.Before(since) || o.ObservedAt.After(now) {
			continue
		}
		if out.Count == 0 {
			out.EdgeMin, out.EdgeMax = o.EdgePercent, o.EdgePercent
			first, last = o.ObservedAt, o.ObservedAt
		}
		out.Count++
		sum += o.EdgePercent
		if o.EdgePercent < out.EdgeMin {
			out.EdgeMin = o.EdgePercent
		}
		if o.EdgePercent > out.EdgeMax {
			out.EdgeMax = o.EdgePercent
		}
		if o.ObservedAt.Before(first) {
			first = o.ObservedAt
		}
		if o.ObservedAt.After(last) {
			last = o.ObservedAt
		}
		if o.EdgePercent >= threshold {
			out.SamplesAboveThreshold++
		}
	}
	if out.Count == 0 {
		return out
	}

	out.HasData = true
	out.EdgeAvg = sum / float64(out.Count)
	out.FirstSeen = &first
	out.LastSeen = &last
	out.DurationMinutes = last.Sub(first).Minutes()

	out.IsPersistent = out.DurationMinutes >= s.rules.PersistentMinutes &&
		out.SamplesAboveThreshold >= s.rules.PersistentSamples
	out.IsStable = out.EdgeMax-out.EdgeMin < s.rules.StableRange
	out.Quality = Classify(out.IsPersistent, out.IsStable)

	hours := out.DurationMinutes / 60
	out.Score = out.EdgeAvg*s.weights.Average +
		hours*s.weights.Duration +
		(float64(out.Count)/s.weights.CountDivisor)*s.weights.Count
	return out
}

// Series returns the time-ordered edge samples of one opportunity in the window.
func Series(obs []domain.EdgeObservation, windowHours float64, now time.Time) []domain.EdgePoint {
	since := WindowStart(now, windowHours)
	out := make([]domain.EdgePoint, 0, len(obs))
	for _, o := range obs {
		if o.ObservedAt.Before(since) || o.ObservedAt.After(now) {
			continue
		}
		out = append(out, domain.EdgePoint{Timestamp: o.ObservedAt, EdgePercent: o.EdgePercent})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// WindowStart returns now minus windowHours. windowHours must not exceed
// MaxWindowHours.
func WindowStart(now time.Time, windowHours float64) time.Time {
	return now.Add(-time.Duration(windowHours * float64(time.Hour)))
}

// Observe builds an observation of the given event's prices at ts. The second
// return is false when the edge is not positive, in which case nothing should
// be recorded.
func Observe(runID string, ev domain.MatchedEvent, ts time.Time) (domain.EdgeObservation, bool) {
	res := arbitrage.Evaluate(ev.A.YesPrice, ev.A.NoPrice, ev.B.YesPrice, ev.B.NoPrice)
	if !res.IsArbitrage || res.EdgePercent <= 0 {
		return domain.EdgeObservation{}, false
	}
	return domain.EdgeObservation{
		ID:            uuid.NewString(),
		OpportunityID: ev.OpportunityID,
		RunID:         runID,
		AID:           ev.A.MarketID,
		BID:           ev.B.MarketID,
		AYes:          ev.A.YesPrice,
		ANo:           ev.A.NoPrice,
		BYes:          ev.B.YesPrice,
		BNo:           ev.B.NoPrice,
		EdgePercent:   res.EdgePercent,
		Strategy:      res.Direction.Strategy(),
		Category:      ev.Category,
		Title:         ev.Title,
		ObservedAt:    ts,
	}, true
}
