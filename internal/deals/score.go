package deals

import (
	"github.com/shopspring/decimal"

	"keeper/pkg/types"
)

// Scoring weights. Discount dominates; rating carries most of the rest;
// rank and absolute price are small tie-breakers.
const (
	weightDiscount = 0.50
	weightRating   = 0.35
	weightRank     = 0.10
	weightPrice    = 0.05
)

// Score rates a deal 0-100:
//
//	0.50·discount + 0.35·ratingScore + 0.10·rankScore + 0.05·priceScore
//
// where ratingScore = (rating/5)·100, rankScore = 100·(1−min(1, rank/100000))
// and priceScore = 100·(1−min(1, price/500)).
func Score(d types.Deal) float64 {
	var ratingScore float64
	if d.Rating > 0 {
		ratingScore = d.Rating / 5 * 100
	}

	rankScore := 100 * (1 - clamp01(float64(d.SalesRank)/100000))
	priceScore := 100 * (1 - clamp01(d.CurrentPrice/500))

	score := weightDiscount*d.DiscountPercent +
		weightRating*ratingScore +
		weightRank*rankScore +
		weightPrice*priceScore

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	rounded, _ := decimal.NewFromFloat(score).Round(2).Float64()
	return rounded
}

// WithScore returns the deal with its score filled in.
func WithScore(d types.Deal) types.Deal {
	d.DealScore = Score(d)
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
