package pipeline

import (
	"sort"

	"github.com/alanyoungcy/edgefinder/internal/arbitrage"
	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// BuildEvents joins best matches with their records and prices each pair.
// Matches whose records are missing are dropped. Arbitrage events come first,
// by edge descending, then the rest by similarity descending.
func BuildEvents(best []domain.MarketMatch, as, bs []domain.MarketRecord) []domain.MatchedEvent {
	aByID := indexRecords(as)
	bByID := indexRecords(bs)

	out := make([]domain.MatchedEvent, 0, len(best))
	for _, m := range best {
		a, okA := aByID[m.AID]
		b, okB := bByID[m.BID]
		if !okA || !okB {
			continue
		}
		category := a.Category
		if category == "" {
			category = b.Category
		}
		endDate := a.CloseTime
		if endDate == nil {
			endDate = b.CloseTime
		}
		out = append(out, domain.MatchedEvent{
			OpportunityID: m.OpportunityID,
			Title:         a.Title,
			Category:      category,
			EndDate:       endDate,
			Similarity:    m.Similarity,
			A:             quote(a),
			B:             quote(b),
			Arbitrage:     arbitrage.EvaluateQuads(a.Prices, b.Prices),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if x.Arbitrage.IsArbitrage != y.Arbitrage.IsArbitrage {
			return x.Arbitrage.IsArbitrage
		}
		if x.Arbitrage.EdgePercent != y.Arbitrage.EdgePercent {
			return x.Arbitrage.EdgePercent > y.Arbitrage.EdgePercent
		}
		if x.Similarity != y.Similarity {
			return x.Similarity > y.Similarity
		}
		return x.OpportunityID < y.OpportunityID
	})
	return out
}

func indexRecords(recs []domain.MarketRecord) map[string]domain.MarketRecord {
	out := make(map[string]domain.MarketRecord, len(recs))
	for _, r := range recs {
		out[r.ID] = r
	}
	return out
}

func quote(r domain.MarketRecord) domain.VenueQuote {
	return domain.VenueQuote{
		MarketID:  r.ID,
		Title:     r.Title,
		YesPrice:  r.Prices.BuyYes(),
		NoPrice:   r.Prices.BuyNo(),
		URL:       r.URL,
		Liquidity: r.Liquidity,
	}
}

// countArbitrage returns how many events carry a positive edge.
func countArbitrage(events []domain.MatchedEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Arbitrage.IsArbitrage {
			n++
		}
	}
	return n
}
