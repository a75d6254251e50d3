package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies the prediction-market platform a record came from.
type Venue string

const (
	VenuePolymarket Venue = "polymarket" // venue A
	VenueKalshi     Venue = "kalshi"     // venue B
)

// Valid reports whether v is a known venue.
func (v Venue) Valid() bool {
	return v == VenuePolymarket || v == VenueKalshi
}

var (
	priceZero = decimal.Zero
	priceOne  = decimal.NewFromInt(1)
)

// Price is a single quote in the unit interval. The zero value is an unknown
// price, which is distinct from a quote of 0.
type Price struct {
	Value decimal.Decimal
	Valid bool
}

// PriceOf returns a known price clamped to [0,1].
func PriceOf(v float64) Price {
	return PriceFromDecimal(decimal.NewFromFloat(v))
}

// PriceFromDecimal returns a known price clamped to [0,1].
func PriceFromDecimal(d decimal.Decimal) Price {
	if d.LessThan(priceZero) {
		d = priceZero
	}
	if d.GreaterThan(priceOne) {
		d = priceOne
	}
	return Price{Value: d, Valid: true}
}

// Complement returns 1-p, or an unknown price when p is unknown.
func (p Price) Complement() Price {
	if !p.Valid {
		return Price{}
	}
	return PriceFromDecimal(priceOne.Sub(p.Value))
}

// Float returns the price as a float64 and whether it is known.
func (p Price) Float() (float64, bool) {
	if !p.Valid {
		return 0, false
	}
	return p.Value.InexactFloat64(), true
}

// Ptr returns nil for an unknown price, for nullable columns.
func (p Price) Ptr() *float64 {
	if !p.Valid {
		return nil
	}
	f := p.Value.InexactFloat64()
	return &f
}

// PriceFromPtr is the inverse of Ptr.
func PriceFromPtr(f *float64) Price {
	if f == nil {
		return Price{}
	}
	return PriceOf(*f)
}

// MarshalJSON encodes an unknown price as null and a known one as a number.
func (p Price) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return []byte(p.Value.String()), nil
}

// UnmarshalJSON accepts null, numbers and numeric strings.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = Price{}
		return nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*p = PriceFromDecimal(d)
	return nil
}

// PriceQuad holds both sides of the book for a binary market.
type PriceQuad struct {
	YesBid Price `json:"yes_bid"`
	YesAsk Price `json:"yes_ask"`
	NoBid  Price `json:"no_bid"`
	NoAsk  Price `json:"no_ask"`
}

// BuyYes is the cost of acquiring one yes contract.
func (q PriceQuad) BuyYes() Price { return q.YesAsk }

// BuyNo is the cost of acquiring one no contract.
func (q PriceQuad) BuyNo() Price { return q.NoAsk }

// MarketRecord is the canonical, venue-independent listing shape.
type MarketRecord struct {
	Venue       Venue
	ID          string // slug on polymarket, ticker on kalshi
	Title       string
	Description string
	Category    string
	GroupKey    string // event slug or series ticker, used for display URLs
	GroupTitle  string
	OpenTime    *time.Time
	CloseTime   *time.Time
	Active      bool
	Prices      PriceQuad
	Volume      float64
	Liquidity   float64
	URL         string
	Text        string // embedding input
	Embedding   []float32
	FetchedAt   time.Time
}

// Key returns the venue-qualified identifier.
func (m MarketRecord) Key() string {
	return string(m.Venue) + ":" + m.ID
}

// OpenAt reports whether the market is tradable at t.
func (m MarketRecord) OpenAt(t time.Time) bool {
	if !m.Active {
		return false
	}
	if m.CloseTime != nil && !m.CloseTime.After(t) {
		return false
	}
	return true
}
