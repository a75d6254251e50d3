package domain

import "time"

// MarketMatch pairs a venue-A record with a venue-B candidate.
type MarketMatch struct {
	RunID         string
	OpportunityID string // stable across runs for the same pair
	AID           string
	BID           string
	Similarity    float64
	BestMatch     bool
	CreatedAt     time.Time
}

// Direction names the winning side of a cross-venue spread.
type Direction string

const (
	DirectionAYesBNo Direction = "A-yes/B-no"
	DirectionBYesANo Direction = "B-yes/A-no"
)

// Strategy returns the venue-specific strategy label used in edge history.
func (d Direction) Strategy() string {
	switch d {
	case DirectionAYesBNo:
		return "BUY_YES_PM_BUY_NO_KALSHI"
	case DirectionBYesANo:
		return "BUY_YES_KALSHI_BUY_NO_PM"
	default:
		return ""
	}
}

// ArbitrageResult is derived from a price quad and never stored on its own.
type ArbitrageResult struct {
	Option1       float64   `json:"option1"`
	Option2       float64   `json:"option2"`
	BestCost      float64   `json:"best_cost"`
	IsArbitrage   bool      `json:"is_arbitrage"`
	ProfitPerUnit float64   `json:"profit_per_unit"`
	EdgePercent   float64   `json:"edge_percent"`
	Direction     Direction `json:"direction,omitempty"`
	Complete      bool      `json:"complete"` // false when a price leg was missing
}

// VenueQuote is one side of a matched event as shown in a dataset.
type VenueQuote struct {
	MarketID  string  `json:"market_id"`
	Title     string  `json:"title"`
	YesPrice  Price   `json:"yes_price"`
	NoPrice   Price   `json:"no_price"`
	URL       string  `json:"url"`
	Liquidity float64 `json:"liquidity_usd"`
}

// MatchedEvent is a best match with its economics, as served in a snapshot.
type MatchedEvent struct {
	OpportunityID string          `json:"id"`
	Title         string          `json:"title"`
	Category      string          `json:"category"`
	EndDate       *time.Time      `json:"end_date,omitempty"`
	Similarity    float64         `json:"similarity"`
	A             VenueQuote      `json:"polymarket"`
	B             VenueQuote      `json:"kalshi"`
	Arbitrage     ArbitrageResult `json:"arbitrage"`
}
