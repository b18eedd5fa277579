// Package portfolio reconstructs point-in-time portfolio valuations by
// replaying the immutable transaction ledger against historical prices.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Percentages and average prices are rounded to two decimal places at the
// computation boundary only, so repeated recomputation cannot compound
// rounding error.
package portfolio

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places for average prices and
// return percentages.
const MoneyScale int32 = 2

var hundred = decimal.NewFromInt(100)

// NextAvgPrice applies the weighted-average purchase price rule:
//
//	newAvg = (oldQty*oldAvg + newQty*newPrice) / (oldQty + newQty)
//
// A fresh position (oldQty = 0) adopts the purchase price exactly.
func NextAvgPrice(oldQty, oldAvg, newQty, newPrice decimal.Decimal) decimal.Decimal {
	if oldQty.IsZero() {
		return newPrice
	}
	total := oldQty.Add(newQty)
	if total.IsZero() {
		return decimal.Zero
	}
	weighted := oldQty.Mul(oldAvg).Add(newQty.Mul(newPrice))
	return weighted.Div(total).Round(MoneyScale)
}

// TotalReturn computes (totalAssets - initialCapital) / initialCapital * 100,
// guarded to 0 when initialCapital is zero.
func TotalReturn(totalAssets, initialCapital decimal.Decimal) decimal.Decimal {
	return PeriodReturn(totalAssets, initialCapital)
}

// PeriodReturn computes (current - baseline) / baseline * 100, guarded to
// 0 when the baseline is zero.
func PeriodReturn(current, baseline decimal.Decimal) decimal.Decimal {
	if baseline.IsZero() {
		return decimal.Zero
	}
	return current.Sub(baseline).Div(baseline).Mul(hundred).Round(MoneyScale)
}
