package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{fmt.Errorf("kalshi: get markets: %w", ErrUpstreamUnavailable), KindUpstreamUnavailable},
		{fmt.Errorf("attempt: %w", context.DeadlineExceeded), KindUpstreamUnavailable},
		{ErrMalformedUpstreamData, KindMalformedUpstreamData},
		{ErrNoDataAvailable, KindNoDataAvailable},
		{ErrConfiguration, KindConfiguration},
		{fmt.Errorf("run: %w", ErrLockHeld), KindConflictOrStale},
		{ErrConflict, KindConflictOrStale},
		{fmt.Errorf("dataset x: %w", ErrNotFound), KindNotFound},
		{ErrInvalidInput, KindInvalidInput},
		{ErrUnauthorized, KindUnauthorized},
		{ErrRateLimited, KindRateLimited},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range tests {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestTransient(t *testing.T) {
	if !Transient(fmt.Errorf("x: %w", ErrRateLimited)) {
		t.Error("rate limited should be transient")
	}
	if Transient(ErrNotFound) || Transient(ErrMalformedUpstreamData) {
		t.Error("not found and malformed should not be transient")
	}
}

func TestPrice(t *testing.T) {
	if p := PriceOf(1.4); p.Value.String() != "1" {
		t.Errorf("PriceOf(1.4) = %s, want clamped to 1", p.Value)
	}
	if p := PriceOf(-0.2); p.Value.String() != "0" {
		t.Errorf("PriceOf(-0.2) = %s, want clamped to 0", p.Value)
	}
	if f, _ := PriceOf(0.35).Complement().Float(); f != 0.65 {
		t.Errorf("Complement(0.35) = %v, want 0.65", f)
	}
	if (Price{}).Complement().Valid {
		t.Error("Complement of unknown price should stay unknown")
	}
	if PriceFromPtr(nil).Valid || PriceOf(0).Ptr() == nil {
		t.Error("zero price must be known and distinct from unknown")
	}
}

func TestPriceJSON(t *testing.T) {
	q := PriceQuad{YesAsk: PriceOf(0.42)}
	b, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"yes_bid":null,"yes_ask":0.42,"no_bid":null,"no_ask":null}`
	if string(b) != want {
		t.Errorf("Marshal = %s, want %s", b, want)
	}

	var back PriceQuad
	if err := json.Unmarshal([]byte(`{"yes_ask":"0.5","no_ask":0.25,"yes_bid":null}`), &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if f, _ := back.YesAsk.Float(); f != 0.5 {
		t.Errorf("YesAsk = %v, want 0.5", f)
	}
	if f, _ := back.NoAsk.Float(); f != 0.25 {
		t.Errorf("NoAsk = %v, want 0.25", f)
	}
	if back.YesBid.Valid {
		t.Error("YesBid should be unknown")
	}
}

func TestMarketRecord_OpenAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	tests := []struct {
		name string
		rec  MarketRecord
		want bool
	}{
		{"active no close", MarketRecord{Active: true}, true},
		{"inactive", MarketRecord{Active: false}, false},
		{"closed", MarketRecord{Active: true, CloseTime: &past}, false},
		{"closes at now", MarketRecord{Active: true, CloseTime: &now}, false},
		{"closes later", MarketRecord{Active: true, CloseTime: &future}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.OpenAt(now); got != tc.want {
				t.Errorf("OpenAt = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDatasetAndEntitlementValidity(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := SharedDataset{CreatedAt: created, ExpiresAt: created.Add(time.Hour), Items: make([]MatchedEvent, 3)}
	if !ds.ActiveAt(created.Add(3599 * time.Second)) {
		t.Error("dataset should be active just before expiry")
	}
	if ds.ActiveAt(created.Add(time.Hour)) {
		t.Error("dataset should be expired at ExpiresAt")
	}
	if h := ds.Header(); h.ItemCount != 3 {
		t.Errorf("ItemCount = %d, want 3", h.ItemCount)
	}

	ent := Entitlement{GrantedAt: created, ValidUntil: created.Add(24 * time.Hour)}
	if !ent.ValidAt(created.Add(2 * time.Hour)) {
		t.Error("entitlement validity must not depend on dataset expiry")
	}
}

func TestPipelineRun_Degraded(t *testing.T) {
	run := PipelineRun{Stages: []StageReport{
		{Stage: StageFetch, Status: StageSuccess},
		{Stage: StageScore, Status: StageDegraded},
	}}
	if !run.Degraded() {
		t.Error("Degraded = false, want true")
	}
	if _, ok := run.Stage(StageMatch); ok {
		t.Error("Stage(match) found, want missing")
	}
	if !RunFailed.Terminal() || RunScoring.Terminal() {
		t.Error("Terminal misclassified")
	}
}
