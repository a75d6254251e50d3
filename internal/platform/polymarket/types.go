package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// FlexFloat unmarshals from a JSON number or numeric string. Set is false when
// the field was absent, null or empty.
type FlexFloat struct {
	Value float64
	Set   bool
}

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = FlexFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = FlexFloat{Value: v, Set: true}
	return nil
}

// APIEvent is the parent event embedded in a Gamma market.
type APIEvent struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID             string     `json:"id"`
	Question       string     `json:"question"`
	Slug           string     `json:"slug"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	Active         flexBool   `json:"active"` // API may send bool or "true"/"false" string
	Closed         flexBool   `json:"closed"`
	OutcomePrices  string     `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	BestBid        FlexFloat  `json:"bestBid"`
	BestAsk        FlexFloat  `json:"bestAsk"`
	LastTradePrice FlexFloat  `json:"lastTradePrice"`
	Volume         FlexFloat  `json:"volume"`
	Liquidity      FlexFloat  `json:"liquidity"`
	StartDate      string     `json:"startDate"`
	EndDate        string     `json:"endDate"`
	Events         []APIEvent `json:"events"`
}

// IsOpen reports whether Gamma lists the market as tradable.
func (m APIMarket) IsOpen() bool {
	return bool(m.Active) && !bool(m.Closed)
}

// YesOutcomePrice returns the first entry of outcomePrices, if parsable.
func (m APIMarket) YesOutcomePrice() (float64, bool) {
	if m.OutcomePrices == "" {
		return 0, false
	}
	var raw []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &raw); err != nil || len(raw) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// EventSlug returns the slug of the parent event, if any.
func (m APIMarket) EventSlug() string {
	if len(m.Events) > 0 {
		return m.Events[0].Slug
	}
	return ""
}

// EventTitle returns the title of the parent event, if any.
func (m APIMarket) EventTitle() string {
	if len(m.Events) > 0 {
		return m.Events[0].Title
	}
	return ""
}
