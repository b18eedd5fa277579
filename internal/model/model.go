// Package model defines the core domain types shared across the engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/calendar"
)

// Period scopes a ranking computation to a time window.
type Period string

const (
	PeriodWeekly  Period = "WEEKLY"
	PeriodMonthly Period = "MONTHLY"
	PeriodAllTime Period = "ALL_TIME"
)

// ValidPeriod reports whether p is one of the known ranking periods.
func ValidPeriod(p Period) bool {
	switch p {
	case PeriodWeekly, PeriodMonthly, PeriodAllTime:
		return true
	}
	return false
}

// League partitions users into separate ranking pools.
type League string

const (
	LeagueRookie     League = "ROOKIE"
	LeagueHallOfFame League = "HALL_OF_FAME"
)

// Transaction types.
const (
	TxBuy  = "BUY"
	TxSell = "SELL"
)

// Candle is one daily OHLCV bar, unique per (instrument, date).
// A candle with any zero or missing OHLC field is incomplete and must
// never be persisted.
type Candle struct {
	InstrumentCode string               `json:"instrument_code" db:"instrument_code"`
	Date           calendar.TradingDate `json:"date"`
	Open           decimal.Decimal      `json:"open" db:"open"`
	High           decimal.Decimal      `json:"high" db:"high"`
	Low            decimal.Decimal      `json:"low" db:"low"`
	Close          decimal.Decimal      `json:"close" db:"close"`
	Volume         int64                `json:"volume" db:"volume"`
}

// Transaction is an immutable ledger entry. Once created these are never
// modified or deleted; they are the source of truth for reconstruction.
type Transaction struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Type           string          `json:"type" db:"type"` // BUY or SELL
	InstrumentCode string          `json:"instrument_code" db:"instrument_code"`
	Quantity       decimal.Decimal `json:"quantity" db:"quantity"`
	Price          decimal.Decimal `json:"price" db:"price"`
	Fee            decimal.Decimal `json:"fee" db:"fee"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// TotalAmount is the cash moved by the transaction: quantity*price + fee
// for buys, quantity*price - fee for sells.
func (t Transaction) TotalAmount() decimal.Decimal {
	gross := t.Quantity.Mul(t.Price)
	if t.Type == TxSell {
		return gross.Sub(t.Fee)
	}
	return gross.Add(t.Fee)
}

// Holding is a derived position: quantity and weighted-average purchase
// price per (user, instrument).
type Holding struct {
	UserID         string          `json:"user_id"`
	InstrumentCode string          `json:"instrument_code"`
	Quantity       decimal.Decimal `json:"quantity"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
}

// PortfolioSnapshot is a point-in-time valuation. Persisted copies are a
// cache; the snapshot is always re-derivable from ledger + price history.
type PortfolioSnapshot struct {
	UserID      string               `json:"user_id" db:"user_id"`
	Date        calendar.TradingDate `json:"date"`
	Cash        decimal.Decimal      `json:"cash" db:"cash"`
	TotalAssets decimal.Decimal      `json:"total_assets" db:"total_assets"`
	TotalReturn decimal.Decimal      `json:"total_return" db:"total_return"` // percent, 2 dp
	// PriceGaps lists instruments whose valuation fell back to a prior
	// candle or could not be valued for this date.
	PriceGaps []string `json:"price_gaps,omitempty"`
}

// CapitalHistory is an append-only audit entry for a capital adjustment.
type CapitalHistory struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Reason    string          `json:"reason" db:"reason"`
	NewTotal  decimal.Decimal `json:"new_total" db:"new_total"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// RankingRow is one user's position in a period's league table.
// At most one row exists per (user, period); recomputation replaces the
// whole period set, never merges.
type RankingRow struct {
	UserID       string          `json:"user_id" db:"user_id"`
	Period       Period          `json:"period" db:"period"`
	League       League          `json:"league" db:"league"`
	Rank         int             `json:"rank" db:"rank"`
	PeriodReturn decimal.Decimal `json:"period_return" db:"period_return"`
	RewardGiven  bool            `json:"reward_given" db:"reward_given"`
}

// User carries the capital state and baselines the engine reads and
// updates. Identity/auth fields live elsewhere.
type User struct {
	ID              string          `json:"id" db:"id"`
	Nickname        string          `json:"nickname" db:"nickname"`
	InitialCapital  decimal.Decimal `json:"initial_capital" db:"initial_capital"`
	Cash            decimal.Decimal `json:"cash" db:"cash"`
	TotalAssets     decimal.Decimal `json:"total_assets" db:"total_assets"`
	TotalReturn     decimal.Decimal `json:"total_return" db:"total_return"` // all-time, percent
	WeeklyBaseline  decimal.Decimal `json:"weekly_baseline" db:"weekly_baseline"`
	MonthlyBaseline decimal.Decimal `json:"monthly_baseline" db:"monthly_baseline"`
	League          League          `json:"league" db:"league"`
	LeagueChangedAt time.Time       `json:"league_changed_at" db:"league_changed_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Instrument is one tracked stock.
type Instrument struct {
	Code    string `json:"code" db:"code"`
	Name    string `json:"name" db:"name"`
	Tracked bool   `json:"tracked" db:"tracked"`
}

// DailyMarketSummary is the stage-1 backfill artifact: the market context
// derived from one day's candles. Its presence marks the date as covered.
type DailyMarketSummary struct {
	Date            calendar.TradingDate `json:"date"`
	InstrumentCount int                  `json:"instrument_count" db:"instrument_count"`
	TotalVolume     int64                `json:"total_volume" db:"total_volume"`
	TopGainerCode   string               `json:"top_gainer_code" db:"top_gainer_code"`
	TopGainerChange decimal.Decimal      `json:"top_gainer_change" db:"top_gainer_change"`
	GeneratedAt     time.Time            `json:"generated_at" db:"generated_at"`
}

// BatchSummary is the structured result every trigger-surface job returns.
// Per-item failures are counted here, never raised as batch errors.
type BatchSummary struct {
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// AddError records a failed item with its error message.
func (s *BatchSummary) AddError(err error) {
	s.Failed++
	if err != nil {
		s.Errors = append(s.Errors, err.Error())
	}
}
