// Package backfill pulls historical candles from the external price-quote
// source and stores them through the price history service.
//
// The source enforces a strict rate limit, so instruments are processed
// one at a time, paced by a rate.Limiter, never concurrently. A failure
// for one instrument is captured in its result and the run continues.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/stocksim/portfolio-engine/internal/calendar"
	"github.com/stocksim/portfolio-engine/internal/faults"
	"github.com/stocksim/portfolio-engine/internal/instrument"
	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/pricehistory"
	"github.com/stocksim/portfolio-engine/internal/store"
)

// QuoteSource is the external daily price provider. It is treated as
// untrusted: every returned candle is validated before storage. Calls may
// fail per instrument and are rate-limited to roughly one per second.
type QuoteSource interface {
	FetchDailyOHLCV(ctx context.Context, code string, from, to calendar.TradingDate) ([]model.Candle, error)
}

// InstrumentResult is the per-instrument outcome of a backfill run.
type InstrumentResult struct {
	InstrumentCode string   `json:"instrument_code"`
	Inserted       int      `json:"inserted"`
	Skipped        int      `json:"skipped"`
	Errors         []string `json:"errors,omitempty"`
}

// Fetcher backfills historical candles instrument by instrument.
type Fetcher struct {
	store   store.Store
	source  QuoteSource
	prices  *pricehistory.Service
	limiter *rate.Limiter
}

// NewFetcher creates a backfill fetcher pacing source calls at reqPerSec.
func NewFetcher(st store.Store, src QuoteSource, prices *pricehistory.Service, reqPerSec float64) *Fetcher {
	if reqPerSec <= 0 {
		reqPerSec = 1
	}
	return &Fetcher{
		store:   st,
		source:  src,
		prices:  prices,
		limiter: rate.NewLimiter(rate.Limit(reqPerSec), 1),
	}
}

// BackfillInstrument fetches the last dayCount calendar days of candles
// for one instrument and upserts each valid one.
func (f *Fetcher) BackfillInstrument(ctx context.Context, code string, dayCount int) InstrumentResult {
	result := InstrumentResult{InstrumentCode: code}

	if err := instrument.ValidateCode(code); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	if dayCount <= 0 {
		result.Errors = append(result.Errors,
			fmt.Errorf("%w: dayCount must be positive, got %d", faults.ErrValidation, dayCount).Error())
		return result
	}

	if err := f.limiter.Wait(ctx); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	to := calendar.Today()
	from := to.AddDays(-(dayCount - 1))

	candles, err := f.source.FetchDailyOHLCV(ctx, code, from, to)
	if err != nil {
		metrics.FetchErrors.Inc()
		result.Errors = append(result.Errors,
			fmt.Errorf("%w: fetch %s: %v", faults.ErrExternalService, code, err).Error())
		return result
	}

	for i := range candles {
		c := candles[i]
		c.InstrumentCode = code
		skipped, err := f.prices.UpsertCandle(ctx, &c, "backfill")
		switch {
		case err != nil:
			result.Errors = append(result.Errors, err.Error())
		case skipped:
			result.Skipped++
		default:
			result.Inserted++
		}
	}
	return result
}

// BackfillAll backfills every tracked instrument sequentially. Cancellation
// is cooperative at the instrument boundary: completed instruments stay
// finalized and the remainder is untouched, safe to resume later.
func (f *Fetcher) BackfillAll(ctx context.Context, dayCount int) ([]InstrumentResult, error) {
	instruments, err := f.store.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}

	start := time.Now()
	results := make([]InstrumentResult, 0, len(instruments))
	for _, inst := range instruments {
		if ctx.Err() != nil {
			slog.Warn("backfill cancelled", "completed", len(results), "remaining", len(instruments)-len(results))
			return results, ctx.Err()
		}
		results = append(results, f.BackfillInstrument(ctx, inst.Code, dayCount))
	}

	var inserted, failed int
	for _, r := range results {
		inserted += r.Inserted
		failed += len(r.Errors)
	}
	slog.Info("backfill finished",
		"instruments", len(results),
		"inserted", inserted,
		"errors", failed,
		"duration", time.Since(start).String(),
	)
	return results, nil
}

// CollectToday pulls today's (possibly partial) candle for every tracked
// instrument and folds it into the intraday tracker as a quote. The daily
// candle-close job persists the result. Sequential and rate-limited like
// any other source access.
func (f *Fetcher) CollectToday(ctx context.Context) model.BatchSummary {
	var summary model.BatchSummary

	instruments, err := f.store.ListInstruments(ctx)
	if err != nil {
		summary.AddError(fmt.Errorf("list instruments: %w", err))
		return summary
	}

	today := calendar.Today()
	now := time.Now()
	for _, inst := range instruments {
		if ctx.Err() != nil {
			summary.AddError(ctx.Err())
			return summary
		}
		summary.Attempted++

		if err := f.limiter.Wait(ctx); err != nil {
			summary.AddError(err)
			continue
		}
		candles, err := f.source.FetchDailyOHLCV(ctx, inst.Code, today, today)
		if err != nil {
			metrics.FetchErrors.Inc()
			summary.AddError(fmt.Errorf("%w: collect %s: %v", faults.ErrExternalService, inst.Code, err))
			continue
		}
		if len(candles) == 0 {
			summary.Skipped++
			continue
		}

		c := candles[len(candles)-1]
		f.prices.RecordQuote(inst.Code, c.Close, c.Volume, now)
		summary.Succeeded++
	}
	return summary
}

// Summarize folds per-instrument results into a batch summary.
func Summarize(results []InstrumentResult) model.BatchSummary {
	var s model.BatchSummary
	for _, r := range results {
		s.Attempted++
		switch {
		case len(r.Errors) > 0:
			s.Failed++
			s.Errors = append(s.Errors, r.Errors...)
		case r.Inserted == 0 && r.Skipped > 0:
			s.Skipped++
		default:
			s.Succeeded++
		}
	}
	return s
}
