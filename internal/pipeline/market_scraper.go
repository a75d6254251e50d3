package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/metrics"
	"github.com/alanyoungcy/edgefinder/internal/normalize"
	"github.com/alanyoungcy/edgefinder/internal/platform/kalshi"
	"github.com/alanyoungcy/edgefinder/internal/platform/polymarket"
)

// Source lists the raw open listings of one venue.
type Source interface {
	Venue() domain.Venue
	Listings(ctx context.Context) ([]normalize.Listing, error)
}

// SourceConfig bounds how much of a venue is fetched per run.
type SourceConfig struct {
	PageSize   int
	MaxPages   int
	MaxMarkets int
	Category   string // Kalshi series category; empty lists every open market
}

// PolymarketSource pages through the Gamma API.
type PolymarketSource struct {
	client *polymarket.GammaClient
	cfg    SourceConfig
	logger *slog.Logger
}

// NewPolymarketSource creates a Source for Polymarket.
func NewPolymarketSource(client *polymarket.GammaClient, cfg SourceConfig, logger *slog.Logger) *PolymarketSource {
	return &PolymarketSource{client: client, cfg: cfg, logger: logger}
}

func (s *PolymarketSource) Venue() domain.Venue { return domain.VenuePolymarket }

// Listings returns every open market. A failure after at least one page
// keeps what was collected.
func (s *PolymarketSource) Listings(ctx context.Context) ([]normalize.Listing, error) {
	markets, err := s.client.ListOpenMarkets(ctx, s.cfg.PageSize, s.cfg.MaxPages, s.cfg.MaxMarkets)
	if err != nil {
		if len(markets) == 0 {
			return nil, err
		}
		s.logger.WarnContext(ctx, "polymarket listing truncated",
			slog.Int("collected", len(markets)),
			slog.String("error", err.Error()),
		)
	}
	out := make([]normalize.Listing, len(markets))
	for i, m := range markets {
		out[i] = normalize.PolymarketListing{Market: m}
	}
	return out, nil
}

// KalshiSource lists open markets of the series in one category.
type KalshiSource struct {
	client *kalshi.Client
	cfg    SourceConfig
	logger *slog.Logger
}

// NewKalshiSource creates a Source for Kalshi.
func NewKalshiSource(client *kalshi.Client, cfg SourceConfig, logger *slog.Logger) *KalshiSource {
	return &KalshiSource{client: client, cfg: cfg, logger: logger}
}

func (s *KalshiSource) Venue() domain.Venue { return domain.VenueKalshi }

// Listings resolves the category's series, then their open markets. A
// category with no series yields no listings.
func (s *KalshiSource) Listings(ctx context.Context) ([]normalize.Listing, error) {
	var tickers []string
	if s.cfg.Category != "" {
		series, err := s.client.ListSeries(ctx, s.cfg.Category, s.cfg.MaxPages)
		if err != nil && len(series) == 0 {
			return nil, err
		}
		if len(series) == 0 {
			s.logger.WarnContext(ctx, "no kalshi series in category", slog.String("category", s.cfg.Category))
			return []normalize.Listing{}, nil
		}
		tickers = make([]string, len(series))
		for i, se := range series {
			tickers[i] = se.Ticker
		}
	}

	markets, err := s.client.ListOpenMarkets(ctx, tickers, s.cfg.PageSize, s.cfg.MaxMarkets)
	if err != nil {
		return nil, err
	}
	out := make([]normalize.Listing, len(markets))
	for i, m := range markets {
		out[i] = normalize.KalshiListing{Market: m}
	}
	return out, nil
}

// VenueBatch is the normalized output of one venue fetch.
type VenueBatch struct {
	Venue    domain.Venue
	Records  []domain.MarketRecord
	Fetched  int // raw listings
	Filtered int // dropped by the category filter
	Skipped  int // malformed or duplicate
}

// MarketScraper fetches, filters and normalizes one venue's listings.
type MarketScraper struct {
	filter *normalize.Filter
	now    func() time.Time
	logger *slog.Logger
}

// NewMarketScraper creates a MarketScraper. A nil filter keeps everything.
func NewMarketScraper(filter *normalize.Filter, logger *slog.Logger) *MarketScraper {
	return &MarketScraper{filter: filter, now: time.Now, logger: logger}
}

// Scrape fetches src once. Malformed listings are skipped and counted; only a
// failed fetch is an error.
func (s *MarketScraper) Scrape(ctx context.Context, src Source) (VenueBatch, error) {
	venue := src.Venue()
	batch := VenueBatch{Venue: venue}

	listings, err := src.Listings(ctx)
	if err != nil {
		return batch, fmt.Errorf("pipeline: fetch %s: %w", venue, err)
	}
	batch.Fetched = len(listings)

	kept := listings
	if s.filter != nil {
		kept = make([]normalize.Listing, 0, len(listings))
		for _, l := range listings {
			if s.filter.Keep(l) {
				kept = append(kept, l)
			}
		}
	}
	batch.Filtered = len(listings) - len(kept)

	res := normalize.All(kept, s.now().UTC())
	batch.Records = res.Records
	batch.Skipped = res.Skipped
	for _, e := range res.Errors {
		s.logger.DebugContext(ctx, "listing skipped",
			slog.String("venue", string(venue)),
			slog.String("error", e.Error()),
		)
	}

	metrics.MarketsFetched.WithLabelValues(string(venue)).Add(float64(len(batch.Records)))
	if batch.Skipped > 0 {
		metrics.RecordsSkipped.WithLabelValues(string(venue), "normalize").Add(float64(batch.Skipped))
	}
	s.logger.InfoContext(ctx, "venue scraped",
		slog.String("venue", string(venue)),
		slog.Int("fetched", batch.Fetched),
		slog.Int("filtered", batch.Filtered),
		slog.Int("skipped", batch.Skipped),
		slog.Int("records", len(batch.Records)),
	)
	return batch, nil
}
