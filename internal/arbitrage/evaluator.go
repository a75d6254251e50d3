// Package arbitrage computes cross-venue spread economics for a matched pair
// of binary markets.
package arbitrage

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Evaluate prices the two ways of holding one yes and one no contract across
// venues A and B. It is a pure function of its inputs.
//
//	option1 = yesA + noB  (buy yes on A, no on B)
//	option2 = yesB + noA  (buy yes on B, no on A)
//
// On equal cost the direction is B-yes/A-no. A missing leg yields a
// non-arbitrage result with Complete=false.
func Evaluate(yesA, noA, yesB, noB domain.Price) domain.ArbitrageResult {
	if !yesA.Valid || !noA.Valid || !yesB.Valid || !noB.Valid {
		return domain.ArbitrageResult{}
	}

	option1 := yesA.Value.Add(noB.Value)
	option2 := yesB.Value.Add(noA.Value)

	best := decimal.Min(option1, option2)
	direction := domain.DirectionBYesANo
	if option1.LessThan(option2) {
		direction = domain.DirectionAYesBNo
	}

	res := domain.ArbitrageResult{
		Option1:   option1.InexactFloat64(),
		Option2:   option2.InexactFloat64(),
		BestCost:  best.InexactFloat64(),
		Direction: direction,
		Complete:  true,
	}
	if best.LessThan(one) {
		profit := one.Sub(best)
		res.IsArbitrage = true
		res.ProfitPerUnit = profit.InexactFloat64()
		res.EdgePercent = profit.Mul(hundred).InexactFloat64()
	}
	return res
}

// EvaluateQuads evaluates using the buy side of each venue's book.
func EvaluateQuads(a, b domain.PriceQuad) domain.ArbitrageResult {
	return Evaluate(a.BuyYes(), a.BuyNo(), b.BuyYes(), b.BuyNo())
}
