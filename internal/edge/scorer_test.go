package edge

import (
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func series(id string, start time.Time, step time.Duration, edges ...float64) []domain.EdgeObservation {
	out := make([]domain.EdgeObservation, len(edges))
	for i, e := range edges {
		out[i] = domain.EdgeObservation{
			OpportunityID: id,
			EdgePercent:   e,
			ObservedAt:    start.Add(time.Duration(i) * step),
		}
	}
	return out
}

func TestClassify_Exhaustive(t *testing.T) {
	tests := []struct {
		persistent, stable bool
		want               domain.Quality
	}{
		{true, true, domain.QualityStable},
		{true, false, domain.QualityPersistent},
		{false, true, domain.QualityStableShort},
		{false, false, domain.QualityNoisy},
	}
	seen := map[domain.Quality]bool{}
	for _, tc := range tests {
		got := Classify(tc.persistent, tc.stable)
		if got != tc.want {
			t.Errorf("Classify(%v, %v) = %s, want %s", tc.persistent, tc.stable, got, tc.want)
		}
		seen[got] = true
	}
	if len(seen) != 4 {
		t.Errorf("distinct labels = %d, want 4", len(seen))
	}
}

func TestAnalyze_StableScenario(t *testing.T) {
	s := NewScorer(DefaultWeights(), DefaultRules())
	obs := series("opp", t0, 11*time.Minute+15*time.Second, 4.0, 4.5, 5.0, 5.5, 6.0)
	now := t0.Add(time.Hour)

	got := s.Analyze("opp", obs, 24, 5.0, now)
	if !got.HasData {
		t.Fatal("HasData = false, want true")
	}
	if got.Count != 5 {
		t.Errorf("Count = %d, want 5", got.Count)
	}
	if got.SamplesAboveThreshold != 3 {
		t.Errorf("SamplesAboveThreshold = %d, want 3", got.SamplesAboveThreshold)
	}
	if got.DurationMinutes != 45 {
		t.Errorf("DurationMinutes = %v, want 45", got.DurationMinutes)
	}
	if got.EdgeMin != 4.0 || got.EdgeMax != 6.0 || got.EdgeAvg != 5.0 {
		t.Errorf("min/max/avg = %v/%v/%v, want 4/6/5", got.EdgeMin, got.EdgeMax, got.EdgeAvg)
	}
	if !got.IsPersistent || !got.IsStable {
		t.Errorf("IsPersistent=%v IsStable=%v, want both true", got.IsPersistent, got.IsStable)
	}
	if got.Quality != domain.QualityStable {
		t.Errorf("Quality = %s, want STABLE", got.Quality)
	}
	// 5*0.4 + 0.75*0.3 + (5/60)*0.3
	if want := 2.25; math.Abs(got.Score-want) > 1e-9 {
		t.Errorf("Score = %v, want %v", got.Score, want)
	}
	if !got.FirstSeen.Equal(t0) || !got.LastSeen.Equal(t0.Add(45*time.Minute)) {
		t.Errorf("FirstSeen/LastSeen = %v/%v", got.FirstSeen, got.LastSeen)
	}
}

func TestAnalyze_Labels(t *testing.T) {
	s := NewScorer(DefaultWeights(), DefaultRules())
	now := t0.Add(2 * time.Hour)

	tests := []struct {
		name string
		obs  []domain.EdgeObservation
		want domain.Quality
	}{
		{"persistent but volatile", series("o", t0, 20*time.Minute, 5, 9, 6, 10), domain.QualityPersistent},
		{"stable but short", series("o", t0, 5*time.Minute, 5, 5.5, 6), domain.QualityStableShort},
		{"noisy", series("o", t0, 5*time.Minute, 1, 8), domain.QualityNoisy},
		{"long but few above threshold", series("o", t0, 30*time.Minute, 1, 1.5, 2), domain.QualityStableShort},
	}
	for _, tc := range tests {
		got := s.Analyze("o", tc.obs, 24, 5, now)
		if got.Quality != tc.want {
			t.Errorf("%s: Quality = %s, want %s (%+v)", tc.name, got.Quality, tc.want, got)
		}
	}
}

func TestAnalyze_Window(t *testing.T) {
	s := NewScorer(DefaultWeights(), DefaultRules())
	now := t0.Add(48 * time.Hour)
	obs := append(
		series("o", t0, time.Minute, 50, 60), // outside a 24h window
		series("o", now.Add(-time.Hour), time.Minute, 2, 3)...,
	)

	got := s.Analyze("o", obs, 24, 5, now)
	if got.Count != 2 || got.EdgeMax != 3 {
		t.Errorf("Count=%d EdgeMax=%v, want 2 and 3", got.Count, got.EdgeMax)
	}
}

func TestAnalyze_NoData(t *testing.T) {
	s := NewScorer(DefaultWeights(), DefaultRules())
	got := s.Analyze("missing", nil, 24, 5, t0)
	if got.HasData {
		t.Error("HasData = true, want false")
	}
	if got.OpportunityID != "missing" || got.Quality != "" || got.FirstSeen != nil {
		t.Errorf("no-data result = %+v", got)
	}

	other := series("other", t0, time.Minute, 5)
	if s.Analyze("missing", other, 24, 5, t0.Add(time.Minute)).HasData {
		t.Error("observations of another opportunity leaked into the result")
	}
}

func TestAnalyze_ConfigurableWeights(t *testing.T) {
	s := NewScorer(Weights{Average: 1, Duration: 0, Count: 1, CountDivisor: 2}, DefaultRules())
	obs := series("o", t0, time.Minute, 4, 6)
	got := s.Analyze("o", obs, 24, 5, t0.Add(time.Hour))
	// avg 5*1 + (2/2)*1
	if got.Score != 6 {
		t.Errorf("Score = %v, want 6", got.Score)
	}
}

func TestSeries_Ordered(t *testing.T) {
	obs := []domain.EdgeObservation{
		{OpportunityID: "o", EdgePercent: 2, ObservedAt: t0.Add(2 * time.Minute)},
		{OpportunityID: "o", EdgePercent: 1, ObservedAt: t0},
		{OpportunityID: "o", EdgePercent: 9, ObservedAt: t0.Add(-48 * time.Hour)},
	}
	got := Series(obs, 24, t0.Add(time.Hour))
	if len(got) != 2 {
		t.Fatalf("len(series) = %d, want 2", len(got))
	}
	if got[0].EdgePercent != 1 || got[1].EdgePercent != 2 {
		t.Errorf("series = %+v, want ascending by time", got)
	}
}

func TestObserve_OnlyPositiveEdges(t *testing.T) {
	ev := domain.MatchedEvent{
		OpportunityID: "o",
		A:             domain.VenueQuote{MarketID: "pm", YesPrice: domain.PriceOf(0.40), NoPrice: domain.PriceOf(0.60)},
		B:             domain.VenueQuote{MarketID: "KX", YesPrice: domain.PriceOf(0.45), NoPrice: domain.PriceOf(0.50)},
	}
	obs, ok := Observe("run", ev, t0)
	if !ok {
		t.Fatal("Observe ok = false, want true")
	}
	if obs.EdgePercent != 10 || obs.Strategy != "BUY_YES_PM_BUY_NO_KALSHI" {
		t.Errorf("observation = %+v", obs)
	}
	if obs.ID == "" || obs.RunID != "run" || !obs.ObservedAt.Equal(t0) {
		t.Errorf("observation metadata = %+v", obs)
	}

	flat := ev
	flat.A.YesPrice, flat.A.NoPrice = domain.PriceOf(0.5), domain.PriceOf(0.5)
	flat.B.YesPrice, flat.B.NoPrice = domain.PriceOf(0.5), domain.PriceOf(0.5)
	if _, ok := Observe("run", flat, t0); ok {
		t.Error("Observe recorded a zero edge")
	}

	missing := ev
	missing.B.NoPrice = domain.Price{}
	if _, ok := Observe("run", missing, t0); ok {
		t.Error("Observe recorded an observation with a missing leg")
	}
}
