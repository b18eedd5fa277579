package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNextAvgPrice_FreshPositionAdoptsPurchasePrice(t *testing.T) {
	avg := NextAvgPrice(decimal.Zero, decimal.Zero, d(10), d(68000))
	assert.True(t, avg.Equal(d(68000)), "got %s", avg)

	avg = NextAvgPrice(decimal.Zero, decimal.Zero, d(3), d(12345.67))
	assert.True(t, avg.Equal(d(12345.67)), "got %s", avg)
}

func TestNextAvgPrice_WeightedAverage(t *testing.T) {
	// 10 @ 68,000 then 10 @ 70,000 → 69,000.
	avg := NextAvgPrice(d(10), d(68000), d(10), d(70000))
	assert.True(t, avg.Equal(d(69000)), "got %s", avg)

	// 3 @ 100 then 1 @ 50 → 87.50 exactly at two decimals.
	avg = NextAvgPrice(d(3), d(100), d(1), d(50))
	assert.True(t, avg.Equal(d(87.5)), "got %s", avg)
}

func TestNextAvgPrice_RoundsToTwoDecimals(t *testing.T) {
	// (1*100 + 2*101) / 3 = 100.666… → 100.67
	avg := NextAvgPrice(d(1), d(100), d(2), d(101))
	assert.True(t, avg.Equal(d(100.67)), "got %s", avg)
}

func TestTotalReturn_ZeroCapitalGuard(t *testing.T) {
	ret := TotalReturn(d(123456), decimal.Zero)
	assert.True(t, ret.IsZero())
}

func TestTotalReturn_Percent(t *testing.T) {
	ret := TotalReturn(d(10_010_000), d(10_000_000))
	assert.True(t, ret.Equal(d(0.1)), "got %s", ret)

	ret = TotalReturn(d(9_500_000), d(10_000_000))
	assert.True(t, ret.Equal(d(-5)), "got %s", ret)
}

func TestPeriodReturn_ZeroBaselineGuard(t *testing.T) {
	assert.True(t, PeriodReturn(d(42), decimal.Zero).IsZero())
}
