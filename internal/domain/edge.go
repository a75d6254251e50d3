package domain

import "time"

// EdgeObservation is one append-only record of a positive edge for an
// opportunity at a point in time.
type EdgeObservation struct {
	ID            string    `json:"snapshot_id"`
	OpportunityID string    `json:"opportunity_id"`
	RunID         string    `json:"pipeline_run_id,omitempty"`
	AID           string    `json:"polymarket_id"`
	BID           string    `json:"kalshi_id"`
	AYes          Price     `json:"polymarket_yes_price"`
	ANo           Price     `json:"polymarket_no_price"`
	BYes          Price     `json:"kalshi_yes_price"`
	BNo           Price     `json:"kalshi_no_price"`
	EdgePercent   float64   `json:"edge_percent"`
	Strategy      string    `json:"edge_strategy"`
	Category      string    `json:"category"`
	Title         string    `json:"market_title"`
	ObservedAt    time.Time `json:"timestamp"`
}

// EdgePoint is a single sample of an edge time series.
type EdgePoint struct {
	Timestamp   time.Time `json:"timestamp"`
	EdgePercent float64   `json:"edge_percent"`
}

// Quality is the categorical verdict on an opportunity's edge history.
type Quality string

const (
	QualityStable      Quality = "STABLE"
	QualityPersistent  Quality = "PERSISTENT"
	QualityStableShort Quality = "STABLE_SHORT"
	QualityNoisy       Quality = "NOISY"
)

// EdgeAnalytics aggregates the observations of one opportunity over a window.
// When HasData is false every other field except OpportunityID is zero.
type EdgeAnalytics struct {
	OpportunityID         string     `json:"opportunity_id"`
	HasData               bool       `json:"has_data"`
	EdgeMin               float64    `json:"edge_min"`
	EdgeMax               float64    `json:"edge_max"`
	EdgeAvg               float64    `json:"edge_avg"`
	Count                 int        `json:"snapshot_count"`
	FirstSeen             *time.Time `json:"first_seen,omitempty"`
	LastSeen              *time.Time `json:"last_seen,omitempty"`
	DurationMinutes       float64    `json:"duration_minutes"`
	SamplesAboveThreshold int        `json:"samples_above_threshold"`
	Score                 float64    `json:"amp_edge_score"`
	IsPersistent          bool       `json:"is_persistent"`
	IsStable              bool       `json:"is_stable"`
	Quality               Quality    `json:"quality,omitempty"`
	WindowHours           float64    `json:"window_hours"`
	Threshold             float64    `json:"edge_threshold"`
}
