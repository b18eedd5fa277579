// Package pricehistory stores one OHLCV candle per (instrument, calendar
// date) and keeps the intraday state needed to close today's candle.
//
// Writes are create-or-correct upserts; invalid candles are skipped and
// counted, never written and never fatal. Partial market data is the
// normal case, not an exception.
package pricehistory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/faults"
	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/store"
)

var (
	// ErrIncompleteCandle is returned for candles with a zero or missing
	// OHLC field. Zero is invalid price data, distinct from "not found".
	ErrIncompleteCandle = fmt.Errorf("%w: incomplete candle", faults.ErrDataIntegrity)

	// ErrInvertedCandle is returned when the OHLC ordering invariant
	// low ≤ open ≤ high and low ≤ close ≤ high does not hold.
	ErrInvertedCandle = fmt.Errorf("%w: OHLC ordering violated", faults.ErrDataIntegrity)
)

// ValidateCandle checks the OHLC invariant. Candles failing it must never
// be persisted.
func ValidateCandle(c *model.Candle) error {
	for _, v := range []decimal.Decimal{c.Open, c.High, c.Low, c.Close} {
		if v.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w (%s@%s)", ErrIncompleteCandle, c.InstrumentCode, c.Date)
		}
	}
	if c.Low.GreaterThan(c.Open) || c.Open.GreaterThan(c.High) ||
		c.Low.GreaterThan(c.Close) || c.Close.GreaterThan(c.High) {
		return fmt.Errorf("%w (%s@%s: o=%s h=%s l=%s c=%s)",
			ErrInvertedCandle, c.InstrumentCode, c.Date,
			c.Open, c.High, c.Low, c.Close)
	}
	return nil
}

// intraday tracks one instrument's running OHLC for the current date.
type intraday struct {
	date   calendar.TradingDate
	open   decimal.Decimal
	high   decimal.Decimal
	low    decimal.Decimal
	last   decimal.Decimal
	volume int64
}

// Service is the price history store. It owns candle validation, the
// intraday tracker, and daily market-context aggregation.
type Service struct {
	store store.Store

	mu    sync.Mutex
	state map[string]*intraday
}

// NewService creates a price history service.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		state: make(map[string]*intraday),
	}
}

// UpsertCandle validates and writes a candle. An invalid candle is skipped
// with a warning; the write reports skipped=true and a nil error so batch
// callers can count it without aborting.
func (s *Service) UpsertCandle(ctx context.Context, c *model.Candle, source string) (skipped bool, err error) {
	if err := ValidateCandle(c); err != nil {
		slog.Warn("skipping invalid candle",
			"instrument", c.InstrumentCode,
			"date", c.Date.String(),
			"err", err,
		)
		metrics.CandlesSkipped.WithLabelValues(skipReason(err)).Inc()
		return true, nil
	}
	if err := s.store.UpsertCandle(ctx, c); err != nil {
		return false, fmt.Errorf("upsert candle %s@%s: %w", c.InstrumentCode, c.Date, err)
	}
	metrics.CandlesUpserted.WithLabelValues(source).Inc()
	return false, nil
}

func skipReason(err error) string {
	if errors.Is(err, ErrInvertedCandle) {
		return "inverted"
	}
	return "incomplete"
}

// GetCandle returns the stored candle for (code, date). A missing candle
// is a legitimate historical gap (faults.ErrNotFound), not invalid data.
func (s *Service) GetCandle(ctx context.Context, code string, date calendar.TradingDate) (*model.Candle, error) {
	return s.store.GetCandle(ctx, code, date)
}

// RecordQuote folds an intraday quote into today's running candle state.
// Open is fixed at the first quote of the day and never overwritten;
// high/low/close refresh on every call. A date rollover resets the state.
func (s *Service) RecordQuote(code string, price decimal.Decimal, volume int64, at time.Time) {
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}
	today := calendar.FromTime(at)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[code]
	if !ok || !st.date.Equal(today) {
		s.state[code] = &intraday{
			date:   today,
			open:   price,
			high:   price,
			low:    price,
			last:   price,
			volume: volume,
		}
		return
	}

	if price.GreaterThan(st.high) {
		st.high = price
	}
	if price.LessThan(st.low) {
		st.low = price
	}
	st.last = price
	st.volume = volume
}

// CloseDailyCandles upserts today's candle for every instrument with
// intraday state. Instruments that never quoted today are counted as
// skipped. Intended to run at market close; safe to re-run (upsert).
func (s *Service) CloseDailyCandles(ctx context.Context) model.BatchSummary {
	var summary model.BatchSummary
	today := calendar.Today()

	instruments, err := s.store.ListInstruments(ctx)
	if err != nil {
		summary.AddError(fmt.Errorf("list instruments: %w", err))
		return summary
	}

	for _, inst := range instruments {
		summary.Attempted++

		s.mu.Lock()
		st, ok := s.state[inst.Code]
		var candle *model.Candle
		if ok && st.date.Equal(today) {
			candle = &model.Candle{
				InstrumentCode: inst.Code,
				Date:           today,
				Open:           st.open,
				High:           st.high,
				Low:            st.low,
				Close:          st.last,
				Volume:         st.volume,
			}
		}
		s.mu.Unlock()

		if candle == nil {
			summary.Skipped++
			continue
		}

		skipped, err := s.UpsertCandle(ctx, candle, "close")
		switch {
		case err != nil:
			summary.AddError(err)
		case skipped:
			summary.Skipped++
		default:
			summary.Succeeded++
		}
	}

	slog.Info("daily candle close finished",
		"date", today.String(),
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary
}

// BuildDailySummary aggregates one date's candles into the market-context
// artifact. Returns faults.ErrNotFound when no candles exist for the date,
// which is how the orchestrator detects a missing day.
func (s *Service) BuildDailySummary(ctx context.Context, date calendar.TradingDate) (*model.DailyMarketSummary, error) {
	candles, err := s.store.GetCandlesByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("candles for %s: %w", date, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", faults.ErrNotFound, date)
	}

	sum := &model.DailyMarketSummary{
		Date:            date,
		InstrumentCount: len(candles),
		GeneratedAt:     time.Now().UTC(),
	}

	hundred := decimal.NewFromInt(100)
	bestChange := decimal.Zero
	for _, c := range candles {
		sum.TotalVolume += c.Volume
		if c.Open.IsZero() {
			continue
		}
		change := c.Close.Sub(c.Open).Div(c.Open).Mul(hundred)
		if sum.TopGainerCode == "" || change.GreaterThan(bestChange) {
			bestChange = change
			sum.TopGainerCode = c.InstrumentCode
		}
	}
	sum.TopGainerChange = bestChange.Round(2)

	if err := s.store.UpsertDailySummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("upsert daily summary %s: %w", date, err)
	}
	return sum, nil
}
