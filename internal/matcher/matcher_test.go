package matcher

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(venue domain.Venue, id string, vec ...float32) domain.MarketRecord {
	return domain.MarketRecord{Venue: venue, ID: id, Title: id, Active: true, Embedding: vec}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"scaled", []float32{1, 1}, []float32{3, 3}, 1},
	}
	for _, tc := range tests {
		got, err := Cosine(tc.a, tc.b)
		if err != nil {
			t.Fatalf("%s: Cosine error: %v", tc.name, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: Cosine = %v, want %v", tc.name, got, tc.want)
		}
	}

	if _, err := Cosine([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Cosine mismatch error = %v, want ErrDimensionMismatch", err)
	}
}

func TestMatch_BestPerARecord(t *testing.T) {
	as := []domain.MarketRecord{
		rec(domain.VenuePolymarket, "will-x-win", 1, 0, 0),
		rec(domain.VenuePolymarket, "will-y-win", 0, 1, 0),
	}
	bs := []domain.MarketRecord{
		rec(domain.VenueKalshi, "KX-1", 0.9, 0.1, 0),
		rec(domain.VenueKalshi, "KY-1", 0.1, 0.95, 0),
		rec(domain.VenueKalshi, "KZ-1", 0, 0, 1),
	}

	got := Match("run-1", as, bs, Options{Floor: 0.8, Now: now})
	if len(got) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(got))
	}
	if got[0].AID != "will-x-win" || got[0].BID != "KX-1" || !got[0].BestMatch {
		t.Errorf("match[0] = %+v, want will-x-win -> KX-1", got[0])
	}
	if got[1].AID != "will-y-win" || got[1].BID != "KY-1" {
		t.Errorf("match[1] = %+v, want will-y-win -> KY-1", got[1])
	}
	for _, m := range got {
		if m.Similarity < 0.8 || m.Similarity > 1 {
			t.Errorf("Similarity = %v outside [floor,1]", m.Similarity)
		}
		if m.RunID != "run-1" {
			t.Errorf("RunID = %q, want run-1", m.RunID)
		}
	}
}

func TestMatch_TieBreaksOnLowestID(t *testing.T) {
	as := []domain.MarketRecord{rec(domain.VenuePolymarket, "a", 1, 1)}
	bs := []domain.MarketRecord{
		rec(domain.VenueKalshi, "KC", 1, 1),
		rec(domain.VenueKalshi, "KA", 1, 1),
		rec(domain.VenueKalshi, "KB", 1, 1),
	}
	got := Best(Match("r", as, bs, Options{Now: now}))
	if len(got) != 1 || got[0].BID != "KA" {
		t.Fatalf("best = %+v, want KA", got)
	}
}

func TestMatch_FloorRejects(t *testing.T) {
	as := []domain.MarketRecord{rec(domain.VenuePolymarket, "a", 1, 0)}
	bs := []domain.MarketRecord{rec(domain.VenueKalshi, "b", 0.5, 0.5)}

	if got := Match("r", as, bs, Options{Floor: 0.8, Now: now}); len(got) != 0 {
		t.Errorf("matches = %+v, want none below floor", got)
	}
	if got := Match("r", as, bs, Options{Floor: 0.7, Now: now}); len(got) != 1 {
		t.Errorf("len(matches) = %d, want 1 at floor 0.7", len(got))
	}
}

func TestMatch_SkipsNaNSimilarity(t *testing.T) {
	nan := float32(math.NaN())
	as := []domain.MarketRecord{rec(domain.VenuePolymarket, "a", 1, 1)}
	bs := []domain.MarketRecord{
		rec(domain.VenueKalshi, "KA", nan, 1),
		rec(domain.VenueKalshi, "KB", 1, 1),
		rec(domain.VenueKalshi, "KC", float32(math.Inf(1)), 1),
	}
	got := Match("r", as, bs, Options{Floor: 0.8, Candidates: 5, Now: now})
	if len(got) != 1 || got[0].BID != "KB" || !got[0].BestMatch {
		t.Fatalf("matches = %+v, want only KB", got)
	}
}

func TestMatch_DefaultFloorRejectsOrthogonal(t *testing.T) {
	as := []domain.MarketRecord{rec(domain.VenuePolymarket, "a", 1, 0)}
	bs := []domain.MarketRecord{rec(domain.VenueKalshi, "b", 0.01, 1)}
	if got := Match("r", as, bs, Options{Now: now}); len(got) != 0 {
		t.Errorf("matches = %+v, want none", got)
	}
}

func TestMatch_Eligibility(t *testing.T) {
	closed := now.Add(-time.Minute)
	as := []domain.MarketRecord{
		rec(domain.VenuePolymarket, "open", 1, 0),
		{Venue: domain.VenuePolymarket, ID: "inactive", Active: false, Embedding: []float32{1, 0}},
		{Venue: domain.VenuePolymarket, ID: "no-embedding", Active: true},
	}
	bs := []domain.MarketRecord{
		{Venue: domain.VenueKalshi, ID: "A-CLOSED", Active: true, CloseTime: &closed, Embedding: []float32{1, 0}},
		rec(domain.VenueKalshi, "B-OPEN", 0.99, 0.05),
	}
	got := Match("r", as, bs, Options{Now: now})
	if len(got) != 1 {
		t.Fatalf("len(matches) = %d, want 1: %+v", len(got), got)
	}
	if got[0].AID != "open" || got[0].BID != "B-OPEN" {
		t.Errorf("match = %+v, want open -> B-OPEN", got[0])
	}
}

func TestMatch_EmptyVenue(t *testing.T) {
	as := []domain.MarketRecord{rec(domain.VenuePolymarket, "a", 1, 0)}

	got := Match("r", as, nil, Options{Now: now})
	if got == nil {
		t.Fatal("Match returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("len(matches) = %d, want 0", len(got))
	}
	if got := Match("r", nil, as, Options{Now: now}); len(got) != 0 {
		t.Errorf("len(matches) = %d, want 0", len(got))
	}
}

func TestMatch_ManyToOne(t *testing.T) {
	as := []domain.MarketRecord{
		rec(domain.VenuePolymarket, "a1", 1, 0.1),
		rec(domain.VenuePolymarket, "a2", 1, 0.05),
	}
	bs := []domain.MarketRecord{rec(domain.VenueKalshi, "b", 1, 0.08)}
	got := Best(Match("r", as, bs, Options{Now: now}))
	if len(got) != 2 {
		t.Fatalf("len(best) = %d, want 2 (one per A record)", len(got))
	}
	if got[0].BID != "b" || got[1].BID != "b" {
		t.Errorf("best = %+v, want both mapped to b", got)
	}
}

func TestMatch_Candidates(t *testing.T) {
	as := []domain.MarketRecord{rec(domain.VenuePolymarket, "a", 1, 0)}
	bs := []domain.MarketRecord{
		rec(domain.VenueKalshi, "b1", 1, 0.2),
		rec(domain.VenueKalshi, "b2", 1, 0),
		rec(domain.VenueKalshi, "b3", 1, 0.3),
	}
	got := Match("r", as, bs, Options{Now: now, Candidates: 2})
	if len(got) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(got))
	}
	if !got[0].BestMatch || got[0].BID != "b2" {
		t.Errorf("first = %+v, want best b2", got[0])
	}
	if got[1].BestMatch || got[1].BID != "b1" {
		t.Errorf("second = %+v, want runner-up b1", got[1])
	}
}

func TestMatch_Idempotent(t *testing.T) {
	as := []domain.MarketRecord{
		rec(domain.VenuePolymarket, "a1", 0.3, 0.7, 0.1),
		rec(domain.VenuePolymarket, "a2", 0.9, 0.1, 0.2),
	}
	bs := []domain.MarketRecord{
		rec(domain.VenueKalshi, "b1", 0.31, 0.69, 0.1),
		rec(domain.VenueKalshi, "b2", 0.88, 0.12, 0.2),
		rec(domain.VenueKalshi, "b3", 0.88, 0.12, 0.2),
	}
	first := Match("r", as, bs, Options{Now: now})
	second := Match("r", as, bs, Options{Now: now})
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Match not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestOpportunityID_Stable(t *testing.T) {
	if OpportunityID("a", "b") != OpportunityID("a", "b") {
		t.Error("OpportunityID not stable")
	}
	if OpportunityID("a", "b") == OpportunityID("b", "a") {
		t.Error("OpportunityID ignores order")
	}
}
