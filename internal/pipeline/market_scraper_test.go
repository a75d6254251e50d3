package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/normalize"
	"github.com/alanyoungcy/edgefinder/internal/platform/polymarket"
)

func TestMarketScraper_FiltersAndSkips(t *testing.T) {
	filter, err := normalize.NewFilter(`(?i)senate|governor`, "")
	if err != nil {
		t.Fatal(err)
	}
	s := NewMarketScraper(filter, discard)
	s.now = func() time.Time { return t0 }

	malformed := normalize.PolymarketListing{Market: polymarket.APIMarket{ID: "9", Question: "Senate seat with no slug"}}
	sport := normalize.PolymarketListing{Market: polymarket.APIMarket{ID: "8", Slug: "cup-final", Question: "Who wins the cup final?", Active: true}}
	src := &fakeSource{
		venue:    domain.VenuePolymarket,
		listings: []normalize.Listing{senateListing(), governorListing(), malformed, sport},
	}

	batch, err := s.Scrape(context.Background(), src)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if batch.Fetched != 4 || batch.Filtered != 1 || batch.Skipped != 1 || len(batch.Records) != 2 {
		t.Errorf("batch = fetched %d filtered %d skipped %d records %d, want 4/1/1/2",
			batch.Fetched, batch.Filtered, batch.Skipped, len(batch.Records))
	}
	for _, r := range batch.Records {
		if !r.FetchedAt.Equal(t0) {
			t.Errorf("%s FetchedAt = %v, want %v", r.ID, r.FetchedAt, t0)
		}
	}
}

func TestMarketScraper_FetchError(t *testing.T) {
	s := NewMarketScraper(nil, discard)
	src := &fakeSource{venue: domain.VenueKalshi, err: fmt.Errorf("kalshi: %w", domain.ErrUpstreamUnavailable)}
	batch, err := s.Scrape(context.Background(), src)
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	if batch.Venue != domain.VenueKalshi || len(batch.Records) != 0 {
		t.Errorf("batch = %+v", batch)
	}
}
