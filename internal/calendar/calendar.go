// Package calendar provides TradingDate, a timezone-pinned calendar date.
//
// Every date in the engine is normalized to KST (Asia/Seoul) before any
// comparison, storage key, or missing-day scan. Two servers in different
// timezones must agree on what "today" means, so the host's local zone is
// never consulted.
package calendar

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stocksim/portfolio-engine/internal/faults"
)

// Layout is the canonical string form of a TradingDate.
const Layout = "2006-01-02"

// kst is the fixed market timezone. Asia/Seoul has no DST and a stable
// +09:00 offset, so a fixed zone avoids depending on the host tzdata.
var kst = time.FixedZone("KST", 9*60*60)

// Location returns the market timezone.
func Location() *time.Location { return kst }

// TradingDate is a calendar date with no time-of-day, pinned to KST.
// The zero value is not a valid date; construct via Today, FromTime,
// or Parse. Immutable value type: all arithmetic returns a new value.
type TradingDate struct {
	t time.Time // midnight KST
}

// Today returns the current calendar date in KST.
func Today() TradingDate {
	return FromTime(time.Now())
}

// FromTime normalizes an instant to its KST calendar date.
func FromTime(instant time.Time) TradingDate {
	y, m, d := instant.In(kst).Date()
	return TradingDate{t: time.Date(y, m, d, 0, 0, 0, 0, kst)}
}

// Parse parses a YYYY-MM-DD string into a TradingDate.
func Parse(s string) (TradingDate, error) {
	t, err := time.ParseInLocation(Layout, s, kst)
	if err != nil {
		return TradingDate{}, fmt.Errorf("%w: invalid date %q (expected YYYY-MM-DD)", faults.ErrValidation, s)
	}
	return TradingDate{t: t}, nil
}

// AddDays returns the date shifted by n calendar days (n may be negative).
func (d TradingDate) AddDays(n int) TradingDate {
	return TradingDate{t: d.t.AddDate(0, 0, n)}
}

// IsWeekend reports whether the date falls on Saturday or Sunday.
func (d TradingDate) IsWeekend() bool {
	wd := d.t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsMonday reports whether the date is a Monday (weekly baseline capture).
func (d TradingDate) IsMonday() bool { return d.t.Weekday() == time.Monday }

// IsMonthStart reports whether the date is the first of its month.
func (d TradingDate) IsMonthStart() bool { return d.t.Day() == 1 }

// String formats the date as YYYY-MM-DD.
func (d TradingDate) String() string { return d.t.Format(Layout) }

// Equal reports whether two dates are the same calendar day.
func (d TradingDate) Equal(other TradingDate) bool { return d.t.Equal(other.t) }

// Before reports whether d is strictly earlier than other.
func (d TradingDate) Before(other TradingDate) bool { return d.t.Before(other.t) }

// After reports whether d is strictly later than other.
func (d TradingDate) After(other TradingDate) bool { return d.t.After(other.t) }

// Time returns midnight KST of the date, for storage and range queries.
func (d TradingDate) Time() time.Time { return d.t }

// IsZero reports whether d is the zero value.
func (d TradingDate) IsZero() bool { return d.t.IsZero() }

// MarshalJSON encodes the date as its YYYY-MM-DD string.
func (d TradingDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD string.
func (d *TradingDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Range returns every calendar date from from to to inclusive, oldest
// first. Returns nil when from is after to.
func Range(from, to TradingDate) []TradingDate {
	if from.After(to) {
		return nil
	}
	var dates []TradingDate
	for d := from; !d.After(to); d = d.AddDays(1) {
		dates = append(dates, d)
	}
	return dates
}

// TradingDays returns the dates of Range(from, to) with weekends removed.
func TradingDays(from, to TradingDate) []TradingDate {
	var dates []TradingDate
	for _, d := range Range(from, to) {
		if !d.IsWeekend() {
			dates = append(dates, d)
		}
	}
	return dates
}
