package kalshi

import (
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// KalshiMarket represents a market as returned by the Kalshi REST API.
// Quotes come in cents; newer API versions also send *_dollars strings.
type KalshiMarket struct {
	Ticker         string `json:"ticker"`
	EventTicker    string `json:"event_ticker"`
	SeriesTicker   string `json:"series_ticker"`
	MarketType     string `json:"market_type"` // "binary", "scalar"
	Title          string `json:"title"`
	Subtitle       string `json:"subtitle"`
	YesSubTitle    string `json:"yes_sub_title"`
	Status         string `json:"status"` // "open"/"active", "closed", "settled"
	YesBid         int64  `json:"yes_bid"`
	YesAsk         int64  `json:"yes_ask"`
	NoBid          int64  `json:"no_bid"`
	NoAsk          int64  `json:"no_ask"`
	YesBidDollars  string `json:"yes_bid_dollars"`
	YesAskDollars  string `json:"yes_ask_dollars"`
	NoBidDollars   string `json:"no_bid_dollars"`
	NoAskDollars   string `json:"no_ask_dollars"`
	LastPrice      int64  `json:"last_price"`
	Volume         int64  `json:"volume"`
	Volume24H      int64  `json:"volume_24h"`
	OpenInterest   int64  `json:"open_interest"`
	Liquidity      int64  `json:"liquidity"` // cents
	Category       string `json:"category"`
	RulesPrimary   string `json:"rules_primary"`
	OpenTime       string `json:"open_time"`
	CloseTime      string `json:"close_time"`
	ExpirationTime string `json:"expiration_time"`
}

// Quote returns one side of the book in the unit interval, preferring the
// dollar field. A zero or absent quote reports ok=false.
func Quote(cents int64, dollars string) (float64, bool) {
	if d := strings.TrimSpace(dollars); d != "" {
		if v, err := strconv.ParseFloat(d, 64); err == nil && v > 0 {
			return v, true
		}
	}
	if cents > 0 {
		return float64(cents) / 100, true
	}
	return 0, false
}

// IsOpen reports whether the market accepts orders.
func (m KalshiMarket) IsOpen() bool {
	return m.Status == "open" || m.Status == "active"
}

// Series returns the series ticker, derived from the ticker prefix when the
// API omits it.
func (m KalshiMarket) Series() string {
	if m.SeriesTicker != "" {
		return m.SeriesTicker
	}
	if i := strings.IndexByte(m.Ticker, '-'); i > 0 {
		return m.Ticker[:i]
	}
	return m.Ticker
}

// KalshiSeries is a series entry from GET /series.
type KalshiSeries struct {
	Ticker   string `json:"ticker"`
	Title    string `json:"title"`
	Category string `json:"category"`
}
