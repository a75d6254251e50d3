// Package normalize converts raw venue listings into domain.MarketRecord.
// Venue-specific fields stop here; nothing downstream sees the raw payloads.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/platform/kalshi"
	"github.com/alanyoungcy/edgefinder/internal/platform/polymarket"
)

// Listing is a raw venue payload. The only implementations are
// PolymarketListing and KalshiListing.
type Listing interface {
	Venue() domain.Venue
	isListing()
}

// PolymarketListing wraps a Gamma market.
type PolymarketListing struct{ Market polymarket.APIMarket }

// KalshiListing wraps a Kalshi market.
type KalshiListing struct{ Market kalshi.KalshiMarket }

func (PolymarketListing) Venue() domain.Venue { return domain.VenuePolymarket }
func (KalshiListing) Venue() domain.Venue     { return domain.VenueKalshi }
func (PolymarketListing) isListing()          {}
func (KalshiListing) isListing()              {}

// Normalize maps one listing to a record. Listings without an identifier or
// title are rejected with ErrMalformedUpstreamData.
func Normalize(l Listing, fetchedAt time.Time) (domain.MarketRecord, error) {
	switch v := l.(type) {
	case PolymarketListing:
		return fromPolymarket(v.Market, fetchedAt)
	case KalshiListing:
		return fromKalshi(v.Market, fetchedAt)
	default:
		return domain.MarketRecord{}, fmt.Errorf("normalize: %w: unknown listing %T", domain.ErrMalformedUpstreamData, l)
	}
}

// Result is the outcome of normalizing a batch.
type Result struct {
	Records []domain.MarketRecord
	Skipped int
	Errors  []error
}

// All normalizes a batch, skipping and counting malformed listings. Duplicate
// identifiers keep the first occurrence.
func All(listings []Listing, fetchedAt time.Time) Result {
	res := Result{Records: make([]domain.MarketRecord, 0, len(listings))}
	seen := make(map[string]struct{}, len(listings))
	for _, l := range listings {
		rec, err := Normalize(l, fetchedAt)
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, err)
			continue
		}
		if _, dup := seen[rec.Key()]; dup {
			res.Skipped++
			continue
		}
		seen[rec.Key()] = struct{}{}
		res.Records = append(res.Records, rec)
	}
	return res
}

func fromPolymarket(m polymarket.APIMarket, fetchedAt time.Time) (domain.MarketRecord, error) {
	id := strings.TrimSpace(m.Slug)
	if id == "" {
		return domain.MarketRecord{}, fmt.Errorf("normalize: %w: polymarket market %q has no slug", domain.ErrMalformedUpstreamData, m.ID)
	}
	title := strings.TrimSpace(m.Question)
	if title == "" {
		return domain.MarketRecord{}, fmt.Errorf("normalize: %w: polymarket market %s has no question", domain.ErrMalformedUpstreamData, id)
	}

	rec := domain.MarketRecord{
		Venue:       domain.VenuePolymarket,
		ID:          id,
		Title:       title,
		Description: m.Description,
		Category:    m.Category,
		GroupKey:    m.EventSlug(),
		GroupTitle:  m.EventTitle(),
		OpenTime:    parseTime(m.StartDate),
		CloseTime:   parseTime(m.EndDate),
		Active:      m.IsOpen(),
		Prices:      polymarketQuad(m),
		Volume:      m.Volume.Value,
		Liquidity:   m.Liquidity.Value,
		FetchedAt:   fetchedAt,
	}
	rec.URL = PolymarketURL(rec.GroupKey, rec.ID)
	rec.Text = PolymarketText(m)
	return rec, nil
}

// polymarketQuad derives the no side from the yes book: buying no costs
// 1 - best yes bid and selling no yields 1 - best yes ask.
func polymarketQuad(m polymarket.APIMarket) domain.PriceQuad {
	var q domain.PriceQuad
	if m.BestBid.Set && m.BestBid.Value > 0 {
		q.YesBid = domain.PriceOf(m.BestBid.Value)
	}
	switch {
	case m.BestAsk.Set && m.BestAsk.Value > 0:
		q.YesAsk = domain.PriceOf(m.BestAsk.Value)
	case m.LastTradePrice.Set && m.LastTradePrice.Value > 0:
		q.YesAsk = domain.PriceOf(m.LastTradePrice.Value)
	default:
		if v, ok := m.YesOutcomePrice(); ok && v > 0 {
			q.YesAsk = domain.PriceOf(v)
		}
	}
	q.NoAsk = q.YesBid.Complement()
	q.NoBid = q.YesAsk.Complement()
	if !q.NoAsk.Valid && q.YesAsk.Valid {
		// One-sided book: fall back to the complement of the yes quote.
		q.NoAsk = q.YesAsk.Complement()
	}
	return q
}

func fromKalshi(m kalshi.KalshiMarket, fetchedAt time.Time) (domain.MarketRecord, error) {
	id := strings.TrimSpace(m.Ticker)
	if id == "" {
		return domain.MarketRecord{}, fmt.Errorf("normalize: %w: kalshi market has no ticker", domain.ErrMalformedUpstreamData)
	}
	title := strings.TrimSpace(m.Title)
	if title == "" {
		return domain.MarketRecord{}, fmt.Errorf("normalize: %w: kalshi market %s has no title", domain.ErrMalformedUpstreamData, id)
	}

	closeTime := parseTime(m.CloseTime)
	if closeTime == nil {
		closeTime = parseTime(m.ExpirationTime)
	}
	rec := domain.MarketRecord{
		Venue:       domain.VenueKalshi,
		ID:          id,
		Title:       title,
		Description: joinNonEmpty(" ", m.Subtitle, m.YesSubTitle),
		Category:    m.Category,
		GroupKey:    m.Series(),
		OpenTime:    parseTime(m.OpenTime),
		CloseTime:   closeTime,
		Active:      m.IsOpen(),
		Prices:      kalshiQuad(m),
		Volume:      float64(m.Volume),
		Liquidity:   float64(m.Liquidity) / 100,
		FetchedAt:   fetchedAt,
	}
	rec.URL = KalshiURL(rec.GroupKey, rec.ID)
	rec.Text = KalshiText(m)
	return rec, nil
}

func kalshiQuad(m kalshi.KalshiMarket) domain.PriceQuad {
	price := func(cents int64, dollars string) domain.Price {
		if v, ok := kalshi.Quote(cents, dollars); ok {
			return domain.PriceOf(v)
		}
		return domain.Price{}
	}
	return domain.PriceQuad{
		YesBid: price(m.YesBid, m.YesBidDollars),
		YesAsk: price(m.YesAsk, m.YesAskDollars),
		NoBid:  price(m.NoBid, m.NoBidDollars),
		NoAsk:  price(m.NoAsk, m.NoAskDollars),
	}
}

// PolymarketURL links to the event page, falling back to the market slug.
func PolymarketURL(eventSlug, slug string) string {
	if eventSlug != "" {
		return "https://polymarket.com/event/" + eventSlug
	}
	if slug != "" {
		return "https://polymarket.com/event/" + slug
	}
	return ""
}

// KalshiURL links to the market page.
func KalshiURL(series, ticker string) string {
	if ticker == "" {
		return ""
	}
	return "https://kalshi.com/markets/" + strings.ToLower(series) + "/dm/" + strings.ToLower(ticker)
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
