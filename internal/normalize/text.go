package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/alanyoungcy/edgefinder/internal/platform/kalshi"
	"github.com/alanyoungcy/edgefinder/internal/platform/polymarket"
)

// maxDetailRunes caps descriptions and rules in the embedding text.
const maxDetailRunes = 300

// KalshiText builds the embedding input: title, subtitle, rules, type and
// resolution date, joined with ". ".
func KalshiText(m kalshi.KalshiMarket) string {
	parts := []string{m.Title, m.Subtitle, truncate(m.RulesPrimary, maxDetailRunes)}
	if m.MarketType != "" {
		parts = append(parts, "Type: "+m.MarketType)
	}
	if d := resolvesDate(m.ExpirationTime); d != "" {
		parts = append(parts, "Resolves: "+d)
	}
	return joinNonEmpty(". ", parts...)
}

// PolymarketText builds the embedding input: question, description, parent
// event and resolution date, joined with ". ".
func PolymarketText(m polymarket.APIMarket) string {
	parts := []string{m.Question, truncate(m.Description, maxDetailRunes)}
	if t := m.EventTitle(); t != "" {
		parts = append(parts, "Event: "+t)
	}
	if d := resolvesDate(m.EndDate); d != "" {
		parts = append(parts, "Resolves: "+d)
	}
	return joinNonEmpty(". ", parts...)
}

func resolvesDate(s string) string {
	if t := parseTime(s); t != nil {
		return t.Format("2006-01-02")
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

// DefaultPoliticsPattern selects political Polymarket questions.
const DefaultPoliticsPattern = `(?i)\b(election|president|senate|congress|governor|vote|political|campaign|trump|harris|democrat|republican|gop|ballot|cabinet|nomination)`

// Filter keeps listings relevant to the configured category.
type Filter struct {
	keywords       *regexp.Regexp
	kalshiCategory string
}

// NewFilter compiles pattern (empty keeps every Polymarket listing) and keeps
// Kalshi listings whose category equals kalshiCategory (empty keeps all).
func NewFilter(pattern, kalshiCategory string) (*Filter, error) {
	f := &Filter{kalshiCategory: kalshiCategory}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		f.keywords = re
	}
	return f, nil
}

// Keep reports whether the listing passes the filter.
func (f *Filter) Keep(l Listing) bool {
	switch v := l.(type) {
	case PolymarketListing:
		if f.keywords == nil {
			return true
		}
		m := v.Market
		return f.keywords.MatchString(m.Question) ||
			f.keywords.MatchString(m.EventTitle()) ||
			f.keywords.MatchString(m.Category)
	case KalshiListing:
		// Series-level filtering happens at fetch time; markets often carry
		// no category of their own.
		return f.kalshiCategory == "" || v.Market.Category == "" ||
			strings.EqualFold(v.Market.Category, f.kalshiCategory)
	default:
		return false
	}
}
