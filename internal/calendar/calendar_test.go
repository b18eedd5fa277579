package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocksim/portfolio-engine/internal/faults"
)

func TestFromTime_NormalizesAcrossTimezones(t *testing.T) {
	// 2025-03-10 23:30 UTC is already 2025-03-11 08:30 in KST.
	utc := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-11", FromTime(utc).String())

	// The same instant expressed in New York must normalize identically.
	ny, err := time.LoadLocation("America/New_York")
	if err == nil {
		assert.Equal(t, "2025-03-11", FromTime(utc.In(ny)).String())
	}
}

func TestParse_Valid(t *testing.T) {
	d, err := Parse("2025-06-13")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-13", d.String())
}

func TestParse_Malformed(t *testing.T) {
	for _, s := range []string{"", "2025/06/13", "20250613", "2025-13-40", "not-a-date"} {
		_, err := Parse(s)
		require.Error(t, err, "input %q", s)
		assert.True(t, errors.Is(err, faults.ErrValidation), "input %q", s)
	}
}

func TestEqual_IsStringEquality(t *testing.T) {
	a, _ := Parse("2025-06-13")
	b := FromTime(time.Date(2025, 6, 13, 14, 59, 59, 0, kst))
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.String(), b.String())
}

func TestAddDays(t *testing.T) {
	d, _ := Parse("2025-02-27")
	assert.Equal(t, "2025-03-01", d.AddDays(2).String()) // across month end
	assert.Equal(t, "2025-02-20", d.AddDays(-7).String())
}

func TestIsWeekend(t *testing.T) {
	sat, _ := Parse("2025-06-14")
	sun, _ := Parse("2025-06-15")
	mon, _ := Parse("2025-06-16")
	assert.True(t, sat.IsWeekend())
	assert.True(t, sun.IsWeekend())
	assert.False(t, mon.IsWeekend())
}

func TestTradingDays_ExcludesWeekends(t *testing.T) {
	// 2025-06-13 is a Friday; a 7-day window spans one Sat and one Sun.
	from, _ := Parse("2025-06-13")
	days := TradingDays(from, from.AddDays(6))
	require.Len(t, days, 5)
	for _, d := range days {
		assert.False(t, d.IsWeekend(), "date %s", d)
	}
}

func TestRange_Inverted(t *testing.T) {
	a, _ := Parse("2025-06-13")
	assert.Nil(t, Range(a, a.AddDays(-1)))
}

func TestBaselineMarkers(t *testing.T) {
	mon, _ := Parse("2025-06-16")
	first, _ := Parse("2025-06-01")
	assert.True(t, mon.IsMonday())
	assert.False(t, first.IsMonday())
	assert.True(t, first.IsMonthStart())
	assert.False(t, mon.IsMonthStart())
}
